package domain

import (
	"encoding/json"
	"time"
)

// Fingerprint is the canonicalization-stable content hash of a raw payload
// plus its logical identity key, hex-encoded.
type Fingerprint string

// RawRecord is one bronze-layer row: a verbatim fetched payload keyed by
// (source, logical_id, fingerprint). Rows are append-only; an unchanged
// payload is never stored twice and a changed payload always gets a new row.
type RawRecord struct {
	Source      Source
	LogicalID   string
	Fingerprint Fingerprint
	Payload     json.RawMessage
	FetchedAt   time.Time
	LoadType    LoadType
}

// WriteOutcome reports what a raw write did. Duplicate inserts are a no-op
// success, not a conflict.
type WriteOutcome int

const (
	WriteInserted WriteOutcome = iota
	WriteAlreadyPresent
)

func (o WriteOutcome) String() string {
	if o == WriteInserted {
		return "inserted"
	}
	return "already_present"
}
