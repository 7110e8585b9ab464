package api

import (
	"net/http"
	"time"

	"tradegate/pkg/types"
)

// handleSnapshot aggregates every component's state into one response.
// Components that are not wired report empty sections rather than failing
// the whole snapshot.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := GatewaySnapshot{Timestamp: time.Now()}

	if s.bots != nil {
		snap.Bots = s.bots.ListBots()
	}
	if s.trades != nil {
		if stats, err := s.trades.GetStats(r.Context(), types.TradeFilter{}); err == nil {
			snap.Stats = stats
		} else {
			s.logger.Warn("snapshot stats", "error", err)
		}
		if daily, err := s.trades.GetDailyPnL(r.Context(), 30); err == nil {
			snap.DailyPnL = daily
		} else {
			s.logger.Warn("snapshot daily pnl", "error", err)
		}
	}
	if s.whales != nil {
		snap.Whales = s.whales.GetTopWhales(10)
	}
	if s.copier != nil {
		snap.CopyPositions = s.copier.OpenPositions()
		snap.CopyTotals = s.copier.Stats()
	}
	if s.bus != nil {
		snap.EventsDropped = s.bus.Dropped()
	}

	writeJSON(w, s.logger, snap)
}
