package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"tradegate/pkg/types"
)

const defaultListLimit = 100

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// statusFor maps the gateway's sentinel errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, map[string]string{"status": "ok"})
}

func (s *Server) handleBots(w http.ResponseWriter, r *http.Request) {
	if s.bots == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	writeJSON(w, s.logger, s.bots.ListBots())
}

func (s *Server) handleBot(w http.ResponseWriter, r *http.Request) {
	if s.bots == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	status, ok := s.bots.GetBotStatus(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown bot")
		return
	}
	writeJSON(w, s.logger, status)
}

func (s *Server) handleBotAction(w http.ResponseWriter, r *http.Request) {
	if s.bots == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	id := r.PathValue("id")

	var err error
	switch action := r.PathValue("action"); action {
	case "start":
		err = s.bots.StartBot(r.Context(), id)
	case "stop":
		err = s.bots.StopBot(r.Context(), id)
	case "pause":
		err = s.bots.PauseBot(id)
	case "resume":
		err = s.bots.ResumeBot(id)
	default:
		writeError(w, http.StatusBadRequest, "unknown action "+strconv.Quote(action))
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	status, _ := s.bots.GetBotStatus(id)
	writeJSON(w, s.logger, status)
}

// tradeFilterFromQuery builds a TradeFilter from request query parameters.
func tradeFilterFromQuery(r *http.Request) types.TradeFilter {
	q := r.URL.Query()
	f := types.TradeFilter{
		Venue:      types.Venue(q.Get("venue")),
		MarketID:   q.Get("market"),
		Outcome:    q.Get("outcome"),
		StrategyID: q.Get("strategy"),
		Status:     types.TradeStatus(q.Get("status")),
		Side:       types.Side(q.Get("side")),
		Limit:      defaultListLimit,
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		f.Limit = n
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n > 0 {
		f.Offset = n
	}
	return f
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if s.trades == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not running")
		return
	}
	trades, err := s.trades.GetTrades(r.Context(), tradeFilterFromQuery(r))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, s.logger, trades)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.trades == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not running")
		return
	}
	csv, err := s.trades.ExportCSV(r.Context(), tradeFilterFromQuery(r))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="trades.csv"`)
	w.Write([]byte(csv))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.trades == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not running")
		return
	}
	stats, err := s.trades.GetStats(r.Context(), tradeFilterFromQuery(r))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, s.logger, stats)
}

func (s *Server) handleDailyPnL(w http.ResponseWriter, r *http.Request) {
	if s.trades == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not running")
		return
	}
	days := 30
	if n, err := strconv.Atoi(r.URL.Query().Get("days")); err == nil && n > 0 {
		days = n
	}
	daily, err := s.trades.GetDailyPnL(r.Context(), days)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, s.logger, daily)
}

func (s *Server) handleWhales(w http.ResponseWriter, r *http.Request) {
	if s.whales == nil {
		writeError(w, http.StatusServiceUnavailable, "whale tracker not running")
		return
	}
	limit := defaultListLimit
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = n
	}
	writeJSON(w, s.logger, s.whales.GetTopWhales(limit))
}

func (s *Server) handleWhaleTrades(w http.ResponseWriter, r *http.Request) {
	if s.whales == nil {
		writeError(w, http.StatusServiceUnavailable, "whale tracker not running")
		return
	}
	limit := defaultListLimit
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = n
	}
	writeJSON(w, s.logger, s.whales.GetRecentTrades(limit))
}

func (s *Server) handleCopyTrader(w http.ResponseWriter, r *http.Request) {
	if s.copier == nil {
		writeError(w, http.StatusServiceUnavailable, "copy trader not running")
		return
	}
	writeJSON(w, s.logger, map[string]any{
		"totals":    s.copier.Stats(),
		"positions": s.copier.OpenPositions(),
	})
}

func (s *Server) handleBacktests(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	records := make([]BacktestRecord, len(s.backtests))
	copy(records, s.backtests)
	s.mu.RUnlock()
	writeJSON(w, s.logger, records)
}
