package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsync/oddsync/internal/domain"
)

func rawRecord(source domain.Source, id, payload string) domain.RawRecord {
	return domain.RawRecord{
		Source:      source,
		LogicalID:   id,
		Fingerprint: "fp-test",
		Payload:     json.RawMessage(payload),
		FetchedAt:   time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		LoadType:    domain.LoadFull,
	}
}

func TestNormalizePricePercentScale(t *testing.T) {
	got, err := NormalizePrice(63, ScalePercent, domain.SourceKalshi, "T1", "last_price")
	require.NoError(t, err)
	assert.InDelta(t, 0.63, got, 1e-9)
}

func TestNormalizePriceFractionScale(t *testing.T) {
	got, err := NormalizePrice(0.63, ScaleFraction, domain.SourcePolymarket, "m1", "yes_price")
	require.NoError(t, err)
	assert.InDelta(t, 0.63, got, 1e-9)
}

func TestNormalizePriceOutOfRangeRejected(t *testing.T) {
	_, err := NormalizePrice(142, ScalePercent, domain.SourceKalshi, "T1", "last_price")
	require.Error(t, err)
	assert.True(t, domain.IsNormalizationError(err))

	_, err = NormalizePrice(1.42, ScaleFraction, domain.SourceManifold, "m1", "probability")
	require.Error(t, err)
	assert.True(t, domain.IsNormalizationError(err))

	_, err = NormalizePrice(-0.1, ScaleFraction, domain.SourceManifold, "m1", "probability")
	assert.True(t, domain.IsNormalizationError(err))
}

func TestNormalizePolymarket(t *testing.T) {
	rec := rawRecord(domain.SourcePolymarket, "mkt-1", `{
		"question": "Will it rain tomorrow?",
		"outcomes": "[\"Yes\",\"No\"]",
		"outcomePrices": "[\"0.63\",\"0.37\"]",
		"active": true,
		"closed": false,
		"slug": "will-it-rain",
		"volume": "12345.6"
	}`)

	m, err := New().Normalize(rec)
	require.NoError(t, err)

	assert.Equal(t, domain.SourcePolymarket, m.Source)
	assert.Equal(t, "mkt-1", m.LogicalID)
	assert.Equal(t, "Will it rain tomorrow?", m.Title)
	assert.Equal(t, domain.MarketStatusActive, m.Status)
	assert.InDelta(t, 0.63, m.YesPrice, 1e-9)
	assert.InDelta(t, 0.37, m.NoPrice, 1e-9)
	assert.Equal(t, domain.Fingerprint("fp-test"), m.LastFingerprint)
	assert.Equal(t, rec.FetchedAt, m.LastUpdatedAt)
	assert.Equal(t, "will-it-rain", m.ExtraData["slug"])
}

func TestNormalizePolymarketClosed(t *testing.T) {
	rec := rawRecord(domain.SourcePolymarket, "mkt-2", `{
		"question": "Done deal?",
		"outcomePrices": "[\"1\",\"0\"]",
		"active": false,
		"closed": true
	}`)

	m, err := New().Normalize(rec)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusClosed, m.Status)
	assert.InDelta(t, 1.0, m.YesPrice, 1e-9)
}

func TestNormalizeKalshiCents(t *testing.T) {
	rec := rawRecord(domain.SourceKalshi, "RAIN-26AUG", `{
		"title": "Rain in NYC by Aug 26?",
		"status": "active",
		"last_price": 63,
		"yes_bid": 62,
		"yes_ask": 64,
		"volume": 1000
	}`)

	m, err := New().Normalize(rec)
	require.NoError(t, err)
	assert.InDelta(t, 0.63, m.YesPrice, 1e-9)
	assert.InDelta(t, 0.37, m.NoPrice, 1e-9)
	assert.Equal(t, domain.MarketStatusActive, m.Status)
}

func TestNormalizeKalshiOutOfRangeSkipped(t *testing.T) {
	rec := rawRecord(domain.SourceKalshi, "BAD-1", `{
		"title": "Broken",
		"status": "active",
		"last_price": 142
	}`)

	_, err := New().Normalize(rec)
	require.Error(t, err)
	assert.True(t, domain.IsNormalizationError(err))
}

func TestNormalizeKalshiStatuses(t *testing.T) {
	cases := map[string]domain.MarketStatus{
		"active":      domain.MarketStatusActive,
		"closed":      domain.MarketStatusClosed,
		"settled":     domain.MarketStatusResolved,
		"paused":      domain.MarketStatusPaused,
		"initialized": domain.MarketStatusPending,
	}
	for upstream, want := range cases {
		rec := rawRecord(domain.SourceKalshi, "T-"+upstream, `{
			"title": "t", "status": "`+upstream+`", "last_price": 50
		}`)
		m, err := New().Normalize(rec)
		require.NoError(t, err, "status %q", upstream)
		assert.Equal(t, want, m.Status, "status %q", upstream)
	}

	rec := rawRecord(domain.SourceKalshi, "T-weird", `{
		"title": "t", "status": "liquidating", "last_price": 50
	}`)
	_, err := New().Normalize(rec)
	assert.True(t, domain.IsNormalizationError(err))
}

func TestNormalizeManifold(t *testing.T) {
	rec := rawRecord(domain.SourceManifold, "abc123", `{
		"question": "Will the launch slip?",
		"probability": 0.42,
		"isResolved": false,
		"closeTime": 1893456000000,
		"outcomeType": "BINARY"
	}`)

	m, err := New().Normalize(rec)
	require.NoError(t, err)
	assert.InDelta(t, 0.42, m.YesPrice, 1e-9)
	assert.InDelta(t, 0.58, m.NoPrice, 1e-9)
	assert.Equal(t, domain.MarketStatusActive, m.Status)
}

func TestNormalizeManifoldResolved(t *testing.T) {
	rec := rawRecord(domain.SourceManifold, "abc124", `{
		"question": "Old one",
		"probability": 1,
		"isResolved": true
	}`)

	m, err := New().Normalize(rec)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
}

func TestNormalizePredictIt(t *testing.T) {
	rec := rawRecord(domain.SourcePredictIt, "7057", `{
		"name": "Balance of power after the election?",
		"shortName": "Balance of power",
		"status": "Open",
		"contracts": [
			{"id": 1, "shortName": "R/R", "lastTradePrice": 0.31},
			{"id": 2, "shortName": "D/D", "lastTradePrice": 0.22}
		]
	}`)

	m, err := New().Normalize(rec)
	require.NoError(t, err)
	assert.InDelta(t, 0.31, m.YesPrice, 1e-9)
	assert.InDelta(t, 0.69, m.NoPrice, 1e-9)
	assert.Equal(t, domain.MarketStatusActive, m.Status)
	assert.Len(t, m.ExtraData["contracts"], 2)
}

func TestNormalizePredictItNoContracts(t *testing.T) {
	rec := rawRecord(domain.SourcePredictIt, "7058", `{
		"name": "Empty", "status": "Open", "contracts": []
	}`)

	_, err := New().Normalize(rec)
	assert.True(t, domain.IsNormalizationError(err))
}

func TestNormalizeGarbledPayloadIsContained(t *testing.T) {
	rec := rawRecord(domain.SourceKalshi, "X", `not json at all`)
	_, err := New().Normalize(rec)
	require.Error(t, err)
	require.True(t, domain.IsNormalizationError(err))

	var nerr *domain.NormalizationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "payload", nerr.Field)
}

func TestNormalizeMistypedFieldIsContained(t *testing.T) {
	// volume as a number where the API documents a string.
	rec := rawRecord(domain.SourcePolymarket, "77", `{"question":"q","outcomePrices":"[\"0.5\",\"0.5\"]","active":true,"volume":123.4}`)
	_, err := New().Normalize(rec)
	require.Error(t, err)
	require.True(t, domain.IsNormalizationError(err))
}
