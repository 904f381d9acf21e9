package domain

import "time"

// MarketStatus represents the lifecycle state of a canonical market.
type MarketStatus string

const (
	MarketStatusActive   MarketStatus = "active"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
	MarketStatusPaused   MarketStatus = "paused"
	MarketStatusPending  MarketStatus = "pending"
)

// Valid reports whether s is a known market status.
func (s MarketStatus) Valid() bool {
	switch s {
	case MarketStatusActive, MarketStatusClosed, MarketStatusResolved,
		MarketStatusPaused, MarketStatusPending:
		return true
	}
	return false
}

// CanonicalMarket is one silver-layer row: the unified view of a market
// regardless of which platform it came from. Prices are always fractional
// probabilities in [0,1]; the upstream scale (percent, cents, fraction) is
// resolved exactly once at write time by the normalizer.
type CanonicalMarket struct {
	Source          Source
	LogicalID       string
	Title           string
	Status          MarketStatus
	YesPrice        float64
	NoPrice         float64
	ExtraData       map[string]any
	LastUpdatedAt   time.Time
	LastFingerprint Fingerprint
}

// MarketFilter narrows canonical market list queries for the read side.
type MarketFilter struct {
	Source Source
	Status MarketStatus
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}
