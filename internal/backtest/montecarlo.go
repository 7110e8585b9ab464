package backtest

import (
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// MonteCarloResult summarises resampled equity outcomes.
type MonteCarloResult struct {
	Simulations int `json:"simulations"`

	P5  float64 `json:"p5"`
	P25 float64 `json:"p25"`
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
	P95 float64 `json:"p95"`

	ProbabilityOfProfit    float64 `json:"probability_of_profit"`
	ProbabilityOfMajorLoss float64 `json:"probability_of_major_loss"` // final < 0.7 * initial
	ExpectedValue          float64 `json:"expected_value"`            // mean final equity - initial
}

// MonteCarlo resamples the run's daily returns with replacement, compounding
// each resampled path from the initial capital over the same number of days.
// The seed makes runs reproducible. With no daily returns it returns zeros.
func MonteCarlo(result *Result, simulations int, seed int64) MonteCarloResult {
	out := MonteCarloResult{Simulations: simulations}
	returns := result.DailyReturns
	if len(returns) == 0 || simulations <= 0 {
		return out
	}

	initial := result.Config.InitialCapital
	rng := rand.New(rand.NewSource(seed))

	finals := make([]float64, simulations)
	var profitable, majorLoss int
	for i := range finals {
		eq := initial
		for range returns {
			eq *= 1 + returns[rng.Intn(len(returns))]
		}
		finals[i] = eq
		if eq > initial {
			profitable++
		}
		if eq < initial*0.7 {
			majorLoss++
		}
	}
	sort.Float64s(finals)

	out.P5 = stat.Quantile(0.05, stat.Empirical, finals, nil)
	out.P25 = stat.Quantile(0.25, stat.Empirical, finals, nil)
	out.P50 = stat.Quantile(0.50, stat.Empirical, finals, nil)
	out.P75 = stat.Quantile(0.75, stat.Empirical, finals, nil)
	out.P95 = stat.Quantile(0.95, stat.Empirical, finals, nil)
	out.ProbabilityOfProfit = float64(profitable) / float64(simulations)
	out.ProbabilityOfMajorLoss = float64(majorLoss) / float64(simulations)
	out.ExpectedValue = stat.Mean(finals, nil) - initial
	return out
}
