package backtest

import (
	"context"
	"log/slog"

	"tradegate/internal/ports"
	"tradegate/pkg/types"
)

// TickRecorder is the write side of the tick recorder; the store's SQLite
// handle implements it.
type TickRecorder interface {
	RecordTick(ctx context.Context, tick types.Tick) error
}

// RecordingMarketData decorates a MarketDataPort so every tick delivered to
// a trade subscription is also persisted. Recording failures are logged and
// never block delivery to the wrapped callback.
type RecordingMarketData struct {
	ports.MarketDataPort
	rec    TickRecorder
	logger *slog.Logger
}

// NewRecordingMarketData wraps md so its trade ticks feed the recorder.
func NewRecordingMarketData(md ports.MarketDataPort, rec TickRecorder, logger *slog.Logger) *RecordingMarketData {
	return &RecordingMarketData{
		MarketDataPort: md,
		rec:            rec,
		logger:         logger.With("component", "tick-recorder"),
	}
}

func (r *RecordingMarketData) SubscribeTrades(ctx context.Context, marketID string, cb func(types.Tick)) error {
	return r.MarketDataPort.SubscribeTrades(ctx, marketID, func(tick types.Tick) {
		if err := r.rec.RecordTick(ctx, tick); err != nil {
			r.logger.Warn("tick not recorded", "market", tick.MarketID, "error", err)
		}
		cb(tick)
	})
}
