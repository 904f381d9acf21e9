package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// wsReconnectDelay is the pause before re-dialing after a dropped stream.
const wsReconnectDelay = 5 * time.Second

// ActivityFunc is invoked for every observed price change. It is used to
// kick the scheduler into pulling the next delta run earlier; ingestion
// itself always goes through FetchDelta.
type ActivityFunc func(marketID string)

// PriceStream subscribes to the Polymarket market-channel websocket and
// reports activity. It is a freshness hint, not a data path: dropped
// messages are acceptable.
type PriceStream struct {
	wsURL  string
	onTick ActivityFunc
	logger *slog.Logger
}

// NewPriceStream creates a stream against wsURL, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewPriceStream(wsURL string, onTick ActivityFunc, logger *slog.Logger) *PriceStream {
	return &PriceStream{
		wsURL:  wsURL,
		onTick: onTick,
		logger: logger.With(slog.String("component", "polymarket_ws")),
	}
}

// Run connects and consumes price-change events until ctx is cancelled,
// reconnecting with a fixed delay on any stream error.
func (s *PriceStream) Run(ctx context.Context) error {
	for {
		if err := s.consume(ctx); err != nil {
			if ctx.Err() != nil {
				s.logger.Info("price stream stopped")
				return ctx.Err()
			}
			s.logger.Warn("price stream disconnected",
				slog.String("error", err.Error()),
			)
		}

		timer := time.NewTimer(wsReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// consume dials the websocket, subscribes to the market channel, and
// forwards price-change ticks until the connection drops.
func (s *PriceStream) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket: dial ws: %w", err)
	}
	defer conn.Close()

	sub := map[string]any{"type": "market", "assets_ids": []string{}}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("polymarket: ws subscribe: %w", err)
	}

	// Close the connection when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	s.logger.Info("price stream connected", slog.String("url", s.wsURL))

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("polymarket: ws read: %w", err)
		}

		var events []struct {
			EventType string `json:"event_type"`
			Market    string `json:"market"`
		}
		if err := json.Unmarshal(msg, &events); err != nil {
			// Non-array control frames are expected; ignore them.
			continue
		}

		for _, ev := range events {
			if ev.EventType == "price_change" && ev.Market != "" {
				s.onTick(ev.Market)
			}
		}
	}
}
