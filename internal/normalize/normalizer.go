// Package normalize converts bronze-layer raw records into the unified
// canonical market schema. Each source has its own field mapping and price
// scale; the output is always a fractional probability in [0,1].
package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/oddsync/oddsync/internal/domain"
)

// Normalizer maps raw records to canonical markets.
type Normalizer struct{}

// New creates a Normalizer.
func New() *Normalizer {
	return &Normalizer{}
}

// Normalize converts one raw record. Every failure is reported as a
// NormalizationError, undecodable documents included, so one bad record is
// skipped and the run continues.
func (n *Normalizer) Normalize(rec domain.RawRecord) (domain.CanonicalMarket, error) {
	var (
		m   domain.CanonicalMarket
		err error
	)

	switch rec.Source {
	case domain.SourcePolymarket:
		m, err = normalizePolymarket(rec)
	case domain.SourceKalshi:
		m, err = normalizeKalshi(rec)
	case domain.SourceManifold:
		m, err = normalizeManifold(rec)
	case domain.SourcePredictIt:
		m, err = normalizePredictIt(rec)
	default:
		return domain.CanonicalMarket{}, &domain.NormalizationError{
			Source:    rec.Source,
			LogicalID: rec.LogicalID,
			Field:     "source",
			Reason:    "no mapping for source",
		}
	}
	if err != nil {
		return domain.CanonicalMarket{}, err
	}

	m.Source = rec.Source
	m.LogicalID = rec.LogicalID
	m.LastUpdatedAt = rec.FetchedAt
	m.LastFingerprint = rec.Fingerprint
	return m, nil
}

// undecodable reports a payload that does not unmarshal into the source's
// document shape. The raw row is already stored, so the record is skipped
// rather than failing the run.
func undecodable(rec domain.RawRecord, err error) *domain.NormalizationError {
	return &domain.NormalizationError{
		Source:    rec.Source,
		LogicalID: rec.LogicalID,
		Field:     "payload",
		Reason:    fmt.Sprintf("document does not decode: %v", err),
	}
}

// ---------------------------------------------------------------------------
// Polymarket: prices arrive as decimal strings on the fraction scale inside
// stringified JSON arrays.
// ---------------------------------------------------------------------------

type polymarketDoc struct {
	Question      string  `json:"question"`
	Outcomes      string  `json:"outcomes"`
	OutcomePrices string  `json:"outcomePrices"`
	Active        bool    `json:"active"`
	Closed        bool    `json:"closed"`
	Volume        string  `json:"volume"`
	Slug          string  `json:"slug"`
	EndDate       *string `json:"endDate"`
}

func normalizePolymarket(rec domain.RawRecord) (domain.CanonicalMarket, error) {
	var doc polymarketDoc
	if err := json.Unmarshal(rec.Payload, &doc); err != nil {
		return domain.CanonicalMarket{}, undecodable(rec, err)
	}

	// outcomePrices is a JSON array encoded as a string, e.g. "[\"0.63\",\"0.37\"]".
	var priceStrs []string
	if err := json.Unmarshal([]byte(doc.OutcomePrices), &priceStrs); err != nil || len(priceStrs) < 2 {
		return domain.CanonicalMarket{}, &domain.NormalizationError{
			Source:    rec.Source,
			LogicalID: rec.LogicalID,
			Field:     "outcomePrices",
			Reason:    "expected a two-outcome price array",
		}
	}

	yesRaw, err := strconv.ParseFloat(priceStrs[0], 64)
	if err != nil {
		return domain.CanonicalMarket{}, &domain.NormalizationError{
			Source: rec.Source, LogicalID: rec.LogicalID,
			Field: "outcomePrices", Reason: "yes price is not numeric",
		}
	}
	noRaw, err := strconv.ParseFloat(priceStrs[1], 64)
	if err != nil {
		return domain.CanonicalMarket{}, &domain.NormalizationError{
			Source: rec.Source, LogicalID: rec.LogicalID,
			Field: "outcomePrices", Reason: "no price is not numeric",
		}
	}

	yes, err := NormalizePrice(yesRaw, ScaleFraction, rec.Source, rec.LogicalID, "yes_price")
	if err != nil {
		return domain.CanonicalMarket{}, err
	}
	no, err := NormalizePrice(noRaw, ScaleFraction, rec.Source, rec.LogicalID, "no_price")
	if err != nil {
		return domain.CanonicalMarket{}, err
	}

	status := domain.MarketStatusActive
	switch {
	case doc.Closed:
		status = domain.MarketStatusClosed
	case !doc.Active:
		status = domain.MarketStatusPaused
	}

	return domain.CanonicalMarket{
		Title:    doc.Question,
		Status:   status,
		YesPrice: yes,
		NoPrice:  no,
		ExtraData: map[string]any{
			"slug":     doc.Slug,
			"volume":   doc.Volume,
			"end_date": doc.EndDate,
		},
	}, nil
}

// ---------------------------------------------------------------------------
// Kalshi: prices arrive as integer cents in [0,100].
// ---------------------------------------------------------------------------

type kalshiDoc struct {
	Title     string  `json:"title"`
	Status    string  `json:"status"`
	LastPrice float64 `json:"last_price"`
	YesBid    float64 `json:"yes_bid"`
	YesAsk    float64 `json:"yes_ask"`
	Volume    float64 `json:"volume"`
	EventTkr  string  `json:"event_ticker"`
}

func normalizeKalshi(rec domain.RawRecord) (domain.CanonicalMarket, error) {
	var doc kalshiDoc
	if err := json.Unmarshal(rec.Payload, &doc); err != nil {
		return domain.CanonicalMarket{}, undecodable(rec, err)
	}

	yes, err := NormalizePrice(doc.LastPrice, ScalePercent, rec.Source, rec.LogicalID, "last_price")
	if err != nil {
		return domain.CanonicalMarket{}, err
	}
	no, err := NormalizePrice(100-doc.LastPrice, ScalePercent, rec.Source, rec.LogicalID, "last_price")
	if err != nil {
		return domain.CanonicalMarket{}, err
	}

	var status domain.MarketStatus
	switch doc.Status {
	case "active", "open":
		status = domain.MarketStatusActive
	case "closed":
		status = domain.MarketStatusClosed
	case "settled", "finalized":
		status = domain.MarketStatusResolved
	case "paused":
		status = domain.MarketStatusPaused
	case "initialized", "unopened":
		status = domain.MarketStatusPending
	default:
		return domain.CanonicalMarket{}, &domain.NormalizationError{
			Source: rec.Source, LogicalID: rec.LogicalID,
			Field: "status", Reason: fmt.Sprintf("unmapped status %q", doc.Status),
		}
	}

	return domain.CanonicalMarket{
		Title:    doc.Title,
		Status:   status,
		YesPrice: yes,
		NoPrice:  no,
		ExtraData: map[string]any{
			"event_ticker": doc.EventTkr,
			"yes_bid":      doc.YesBid,
			"yes_ask":      doc.YesAsk,
			"volume":       doc.Volume,
		},
	}, nil
}

// ---------------------------------------------------------------------------
// Manifold: probability arrives as a float fraction.
// ---------------------------------------------------------------------------

type manifoldDoc struct {
	Question    string  `json:"question"`
	Probability float64 `json:"probability"`
	IsResolved  bool    `json:"isResolved"`
	CloseTime   int64   `json:"closeTime"`
	OutcomeType string  `json:"outcomeType"`
	Volume      float64 `json:"volume"`
	URL         string  `json:"url"`
}

func normalizeManifold(rec domain.RawRecord) (domain.CanonicalMarket, error) {
	var doc manifoldDoc
	if err := json.Unmarshal(rec.Payload, &doc); err != nil {
		return domain.CanonicalMarket{}, undecodable(rec, err)
	}

	yes, err := NormalizePrice(doc.Probability, ScaleFraction, rec.Source, rec.LogicalID, "probability")
	if err != nil {
		return domain.CanonicalMarket{}, err
	}

	status := domain.MarketStatusActive
	switch {
	case doc.IsResolved:
		status = domain.MarketStatusResolved
	case doc.CloseTime > 0 && time.UnixMilli(doc.CloseTime).Before(rec.FetchedAt):
		status = domain.MarketStatusClosed
	}

	return domain.CanonicalMarket{
		Title:    doc.Question,
		Status:   status,
		YesPrice: yes,
		NoPrice:  1 - yes,
		ExtraData: map[string]any{
			"outcome_type": doc.OutcomeType,
			"volume":       doc.Volume,
			"url":          doc.URL,
		},
	}, nil
}

// ---------------------------------------------------------------------------
// PredictIt: contract prices arrive as dollar fractions in [0,1].
// ---------------------------------------------------------------------------

type predictItDoc struct {
	Name      string `json:"name"`
	ShortName string `json:"shortName"`
	Status    string `json:"status"`
	URL       string `json:"url"`
	Contracts []struct {
		ID             int64    `json:"id"`
		ShortName      string   `json:"shortName"`
		LastTradePrice *float64 `json:"lastTradePrice"`
	} `json:"contracts"`
}

func normalizePredictIt(rec domain.RawRecord) (domain.CanonicalMarket, error) {
	var doc predictItDoc
	if err := json.Unmarshal(rec.Payload, &doc); err != nil {
		return domain.CanonicalMarket{}, undecodable(rec, err)
	}

	if len(doc.Contracts) == 0 || doc.Contracts[0].LastTradePrice == nil {
		return domain.CanonicalMarket{}, &domain.NormalizationError{
			Source: rec.Source, LogicalID: rec.LogicalID,
			Field: "contracts", Reason: "no priced contract",
		}
	}

	yes, err := NormalizePrice(*doc.Contracts[0].LastTradePrice, ScaleFraction, rec.Source, rec.LogicalID, "lastTradePrice")
	if err != nil {
		return domain.CanonicalMarket{}, err
	}

	var status domain.MarketStatus
	switch doc.Status {
	case "Open":
		status = domain.MarketStatusActive
	case "Closed":
		status = domain.MarketStatusClosed
	default:
		return domain.CanonicalMarket{}, &domain.NormalizationError{
			Source: rec.Source, LogicalID: rec.LogicalID,
			Field: "status", Reason: fmt.Sprintf("unmapped status %q", doc.Status),
		}
	}

	// Multi-contract markets keep the full contract list as residual data;
	// the canonical yes price tracks the lead contract.
	contracts := make([]map[string]any, 0, len(doc.Contracts))
	for _, c := range doc.Contracts {
		contracts = append(contracts, map[string]any{
			"id":               c.ID,
			"short_name":       c.ShortName,
			"last_trade_price": c.LastTradePrice,
		})
	}

	return domain.CanonicalMarket{
		Title:    doc.Name,
		Status:   status,
		YesPrice: yes,
		NoPrice:  1 - yes,
		ExtraData: map[string]any{
			"short_name": doc.ShortName,
			"url":        doc.URL,
			"contracts":  contracts,
		},
	}, nil
}
