package backtest

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// tradingDaysPerYear annualises daily statistics.
const tradingDaysPerYear = 252

// finalize derives the output metrics from the completed run state.
func finalize(rs *runState) {
	r := rs.result

	if len(r.EquityCurve) > 0 {
		r.FinalEquity = r.EquityCurve[len(r.EquityCurve)-1].Equity
	}
	r.TotalReturn = r.FinalEquity - rs.cfg.InitialCapital
	r.TotalReturnPct = r.TotalReturn / rs.cfg.InitialCapital * 100

	var totalWins, totalLosses, totalPnL float64
	var closed int
	for _, t := range r.Trades {
		if t.RealizedPnL == nil {
			continue
		}
		pnl := *t.RealizedPnL
		closed++
		totalPnL += pnl
		switch {
		case pnl > 0:
			r.WinningTrades++
			totalWins += pnl
		case pnl < 0:
			totalLosses += pnl
		}
	}
	if closed > 0 {
		r.WinRate = float64(r.WinningTrades) / float64(closed) * 100
		r.AvgTrade = totalPnL / float64(closed)
	}
	losses := closed - r.WinningTrades
	switch {
	case totalLosses < 0:
		r.ProfitFactor = totalWins / math.Abs(totalLosses)
	case r.WinningTrades > 0 && losses == 0:
		r.ProfitFactor = math.Inf(1)
	}

	r.MaxDrawdown, r.MaxDrawdownPct = maxDrawdown(r.EquityCurve)
	r.DailyReturns = dailyReturns(r.EquityCurve, rs.cfg.InitialCapital)
	r.SharpeRatio = sharpe(r.DailyReturns, rs.cfg.RiskFreeRate)
}

// maxDrawdown walks the equity curve tracking the running peak.
func maxDrawdown(curve []EquityPoint) (dd, ddPct float64) {
	var peak float64
	for _, pt := range curve {
		if pt.Equity > peak {
			peak = pt.Equity
		}
		draw := peak - pt.Equity
		if draw > dd {
			dd = draw
			if peak > 0 {
				ddPct = draw / peak * 100
			}
		}
	}
	return dd, ddPct
}

// dailyReturns buckets the equity curve by calendar day and computes the
// day-over-day return of each day's closing equity.
func dailyReturns(curve []EquityPoint, initial float64) []float64 {
	if len(curve) == 0 {
		return nil
	}

	var days []string
	closes := make(map[string]float64)
	for _, pt := range curve {
		day := pt.Time.Format("2006-01-02")
		if _, seen := closes[day]; !seen {
			days = append(days, day)
		}
		closes[day] = pt.Equity
	}

	out := make([]float64, 0, len(days))
	prev := initial
	for _, day := range days {
		eq := closes[day]
		if prev > 0 {
			out = append(out, (eq-prev)/prev)
		}
		prev = eq
	}
	return out
}

// sharpe annualises the mean excess daily return over its volatility.
func sharpe(returns []float64, riskFreeRate float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 {
		return 0
	}
	dailyRF := riskFreeRate / tradingDaysPerYear
	return (mean - dailyRF) / std * math.Sqrt(tradingDaysPerYear)
}
