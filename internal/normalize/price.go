package normalize

import (
	"fmt"

	"github.com/oddsync/oddsync/internal/domain"
)

// PriceScale names the convention a platform reports prices in.
type PriceScale int

const (
	// ScaleFraction is a probability in [0,1] (Polymarket, Manifold,
	// PredictIt dollar prices).
	ScaleFraction PriceScale = iota
	// ScalePercent is an integer-like value in [0,100]: percentages or
	// cents (Kalshi).
	ScalePercent
)

// NormalizePrice converts a platform-native price to the canonical [0,1]
// fraction. It is a pure function applied exactly once at ingestion time;
// values outside the valid range after scaling are rejected, never clamped
// and never repaired post-write.
func NormalizePrice(value float64, scale PriceScale, source domain.Source, logicalID, field string) (float64, error) {
	p := value
	if scale == ScalePercent {
		p = value / 100
	}

	if p < 0 || p > 1 {
		return 0, &domain.NormalizationError{
			Source:    source,
			LogicalID: logicalID,
			Field:     field,
			Reason:    fmt.Sprintf("price %v out of range after normalization", value),
		}
	}
	return p, nil
}
