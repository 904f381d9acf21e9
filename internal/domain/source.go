package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Source identifies an external prediction-market platform. The set of
// sources is fixed at startup; adding a platform means adding a new
// SourceClient implementation, not branching inside the orchestrator.
type Source string

const (
	SourcePolymarket Source = "polymarket"
	SourceKalshi     Source = "kalshi"
	SourceManifold   Source = "manifold"
	SourcePredictIt  Source = "predictit"
)

// AllSources lists every configured platform in a stable order.
func AllSources() []Source {
	return []Source{SourcePolymarket, SourceKalshi, SourceManifold, SourcePredictIt}
}

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourcePolymarket, SourceKalshi, SourceManifold, SourcePredictIt:
		return true
	}
	return false
}

// LoadType distinguishes a complete resnapshot from an incremental fetch.
type LoadType string

const (
	LoadFull  LoadType = "full"
	LoadDelta LoadType = "delta"
)

// Valid reports whether lt is a known load type.
func (lt LoadType) Valid() bool {
	return lt == LoadFull || lt == LoadDelta
}

// RawPayload is a single platform-native record as received off the wire,
// paired with its platform-native identifier. The document is kept opaque;
// interpretation happens in the normalizer.
type RawPayload struct {
	LogicalID string
	Document  json.RawMessage
}

// Page is one page of a full fetch. NextCursor is opaque to the caller and
// passed back verbatim on the next call; Done signals exhaustion.
type Page struct {
	Records    []RawPayload
	NextCursor string
	Done       bool
}

// SourceClient is the per-platform ingestion contract. Implementations own
// authentication, pagination, and rate limiting; they make outbound network
// calls only and never persist anything. A page either fully parses or the
// call fails with ErrSourceUnavailable / ErrSourceProtocol classification.
type SourceClient interface {
	// Source returns the platform this client talks to.
	Source() Source

	// FetchFull returns one page of the complete market listing. cursor is
	// empty on the first call and the previous page's NextCursor afterwards.
	FetchFull(ctx context.Context, cursor string) (Page, error)

	// FetchDelta returns every record that changed since the given time.
	FetchDelta(ctx context.Context, since time.Time) ([]RawPayload, error)
}
