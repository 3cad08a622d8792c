// Package risk derives return series from price history and computes
// portfolio risk statistics: annualized volatility, historical and
// parametric VaR, CVaR (expected shortfall), maximum drawdown, risk
// contribution and a correlated stress scenario.
package risk

import (
	"log/slog"
	"math"
	"sort"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ymgta/pfrisk/internal/model"
)

// tradingDaysPerYear is the annualization factor for daily returns.
const tradingDaysPerYear = 252

// Stress scenario parameters: per-ticker volatilities scale up and all
// pairwise correlations jump to a crisis level.
const (
	stressVolatilityFactor = 2.0
	stressCorrelationShock = 0.9
)

const (
	MetricVolatility       = "volatility"
	MetricMeanReturn       = "mean_return"
	MetricSharpe           = "sharpe_ratio"
	MetricVaRHistorical    = "var_historical"
	MetricVaRParametric    = "var_parametric"
	MetricCVaR             = "cvar"
	MetricMaxDrawdown      = "max_drawdown"
	MetricRiskContribution = "risk_contribution"
	MetricStressTest       = "stress_test"
)

type Engine struct {
	minObservations     int
	minTailObservations int
	confidenceLevels    []float64
}

func New(minObservations, minTailObservations int, confidenceLevels []float64) *Engine {
	return &Engine{
		minObservations:     minObservations,
		minTailObservations: minTailObservations,
		confidenceLevels:    confidenceLevels,
	}
}

// aligned holds the inner-joined per-ticker return matrix, the weights
// renormalized over the included tickers and the weighted portfolio
// series derived from them. series is indexed like tickers, one column
// of returns per ticker in shared date order.
type aligned struct {
	tickers   []string
	weights   []float64
	series    [][]float64
	portfolio []float64
}

// Analyze builds the weighted portfolio return series and computes the
// risk snapshot. Tickers with fewer returns than the minimum sample size
// are excluded and flagged; remaining weights are renormalized. Dates
// not present across all included tickers are dropped (inner-join
// alignment), which trades sample size for comparability.
func (e *Engine) Analyze(seriesByTicker map[string]model.PriceSeries, weights map[string]float64) model.RiskReport {
	report := model.RiskReport{
		VaRHistorical: make(map[string]float64),
		VaRParametric: make(map[string]float64),
		CVaR:          make(map[string]float64),
		AsOf:          time.Now().UTC(),
	}

	returnsByTicker := make(map[string]map[time.Time]float64, len(seriesByTicker))
	for ticker, series := range seriesByTicker {
		rets := periodicReturns(series)
		if len(rets) < e.minObservations {
			report.ExcludedTickers = append(report.ExcludedTickers, ticker)
			continue
		}
		if weights[ticker] <= 0 {
			report.ExcludedTickers = append(report.ExcludedTickers, ticker)
			continue
		}
		returnsByTicker[ticker] = rets
	}
	sort.Strings(report.ExcludedTickers)

	a := alignReturns(returnsByTicker, weights)
	report.Observations = len(a.portfolio)

	if len(a.portfolio) < e.minObservations {
		slog.Warn(
			"portfolio return series below minimum sample size",
			slog.Int("observations", len(a.portfolio)),
			slog.Int("minimum", e.minObservations),
		)
		report.InsufficientData = e.allMetricsFlagged()
		return report
	}

	mean := stat.Mean(a.portfolio, nil)
	stdDev := stat.StdDev(a.portfolio, nil)

	report.VolatilityAnnualized = stdDev * math.Sqrt(tradingDaysPerYear)
	report.MeanReturnAnnualized = mean * tradingDaysPerYear

	if report.VolatilityAnnualized > 0 {
		report.SharpeRatio = report.MeanReturnAnnualized / report.VolatilityAnnualized
	} else {
		report.InsufficientData = append(report.InsufficientData, MetricSharpe)
	}

	sorted := make([]float64, len(a.portfolio))
	copy(sorted, a.portfolio)
	sort.Float64s(sorted)

	normal := distuv.Normal{Mu: 0, Sigma: 1}

	for _, confidence := range e.confidenceLevels {
		key := confidenceKey(confidence)

		// empirical percentile with linear interpolation between
		// order statistics
		quantile := stat.Quantile(1-confidence, stat.LinInterp, sorted, nil)
		report.VaRHistorical[key] = -quantile

		// z at (1-c) is negative, so the reported magnitude is
		// z_c*sigma - mu
		z := normal.Quantile(1 - confidence)
		report.VaRParametric[key] = -(mean + z*stdDev)

		tail := tailReturns(sorted, quantile)
		if len(tail) < e.minTailObservations {
			report.InsufficientData = append(report.InsufficientData, MetricCVaR+"_"+key)
			continue
		}
		report.CVaR[key] = -stat.Mean(tail, nil)
	}

	report.MaxDrawdown, report.MaxDrawdownDuration = maxDrawdown(a.portfolio)

	cov := covarianceMatrix(a.series)
	if contribution, ok := riskContribution(a, cov); ok {
		report.RiskContribution = contribution
	} else {
		report.InsufficientData = append(report.InsufficientData, MetricRiskContribution)
	}
	if stress, ok := stressTest(a, cov); ok {
		report.StressTest = stress
	} else {
		report.InsufficientData = append(report.InsufficientData, MetricStressTest)
	}

	return report
}

// periodicReturns computes simple returns r_t = (p_t - p_{t-1}) / p_{t-1}
// keyed by the date of t.
func periodicReturns(series model.PriceSeries) map[time.Time]float64 {
	rets := make(map[time.Time]float64, len(series.Points))
	for i := 1; i < len(series.Points); i++ {
		prev := series.Points[i-1].Price
		if prev <= 0 {
			continue
		}
		cur := series.Points[i]
		rets[cur.Date] = (cur.Price - prev) / prev
	}
	return rets
}

// alignReturns inner-joins the per-ticker return series on date,
// renormalizes the weights over the included tickers and builds the
// cross-sectionally weighted portfolio series.
func alignReturns(returnsByTicker map[string]map[time.Time]float64, weights map[string]float64) aligned {
	if len(returnsByTicker) == 0 {
		return aligned{}
	}

	tickers := make([]string, 0, len(returnsByTicker))
	totalWeight := 0.0
	for ticker := range returnsByTicker {
		tickers = append(tickers, ticker)
		totalWeight += weights[ticker]
	}
	sort.Strings(tickers)

	if totalWeight <= 0 {
		return aligned{}
	}

	var dates []time.Time
	for date := range returnsByTicker[tickers[0]] {
		present := true
		for _, ticker := range tickers[1:] {
			if _, ok := returnsByTicker[ticker][date]; !ok {
				present = false
				break
			}
		}
		if present {
			dates = append(dates, date)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	a := aligned{
		tickers: tickers,
		weights: make([]float64, len(tickers)),
		series:  make([][]float64, len(tickers)),
	}
	for i, ticker := range tickers {
		a.weights[i] = weights[ticker] / totalWeight
		a.series[i] = make([]float64, 0, len(dates))
	}

	a.portfolio = make([]float64, 0, len(dates))
	for _, date := range dates {
		var r float64
		for i, ticker := range tickers {
			ret := returnsByTicker[ticker][date]
			a.series[i] = append(a.series[i], ret)
			r += a.weights[i] * ret
		}
		a.portfolio = append(a.portfolio, r)
	}
	return a
}

// covarianceMatrix computes the daily sample covariance matrix of the
// aligned per-ticker return columns.
func covarianceMatrix(series [][]float64) [][]float64 {
	n := len(series)
	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			c := stat.Covariance(series[i], series[j], nil)
			cov[i][j] = c
			cov[j][i] = c
		}
	}
	return cov
}

// riskContribution decomposes daily portfolio variance into per-ticker
// fractions w_i*(Cov w)_i / (w' Cov w), which sum to 1 across the
// included tickers.
func riskContribution(a aligned, cov [][]float64) (map[string]float64, bool) {
	variance := 0.0
	sigmaW := make([]float64, len(a.tickers))
	for i := range a.tickers {
		for j := range a.tickers {
			sigmaW[i] += cov[i][j] * a.weights[j]
		}
		variance += a.weights[i] * sigmaW[i]
	}
	if variance <= 0 {
		return nil, false
	}

	contribution := make(map[string]float64, len(a.tickers))
	for i, ticker := range a.tickers {
		contribution[ticker] = a.weights[i] * sigmaW[i] / variance
	}
	return contribution, true
}

// stressTest rebuilds the covariance matrix with per-ticker volatilities
// scaled by the stress factor and all pairwise correlations forced to
// the shock level, then compares daily portfolio volatility before and
// after.
func stressTest(a aligned, cov [][]float64) (*model.StressTest, bool) {
	n := len(a.tickers)

	normalVar := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			normalVar += a.weights[i] * cov[i][j] * a.weights[j]
		}
	}
	if normalVar <= 0 {
		return nil, false
	}
	normalVol := math.Sqrt(normalVar)

	stressedVol := make([]float64, n)
	for i := 0; i < n; i++ {
		stressedVol[i] = math.Sqrt(cov[i][i]) * stressVolatilityFactor
	}

	stressedVar := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			corr := stressCorrelationShock
			if i == j {
				corr = 1.0
			}
			stressedVar += a.weights[i] * a.weights[j] * stressedVol[i] * stressedVol[j] * corr
		}
	}
	stressedPortfolioVol := math.Sqrt(stressedVar)

	return &model.StressTest{
		NormalVolatilityDaily:   normalVol,
		StressedVolatilityDaily: stressedPortfolioVol,
		Multiplier:              stressedPortfolioVol / normalVol,
		VolatilityFactor:        stressVolatilityFactor,
		CorrelationShock:        stressCorrelationShock,
	}, true
}

// tailReturns selects the returns at or below the VaR threshold.
func tailReturns(sorted []float64, threshold float64) []float64 {
	// sorted ascending, so the tail is a prefix
	idx := sort.SearchFloat64s(sorted, math.Nextafter(threshold, math.Inf(1)))
	return sorted[:idx]
}

// maxDrawdown compounds the return series from a base of 1.0 and tracks
// the largest peak-to-trough decline (a positive magnitude) together
// with the longest completed drawdown period, measured in observations
// from the first below-peak value to the recovery. A drawdown still
// open at the end of the series does not count toward the duration.
func maxDrawdown(returns []float64) (float64, int) {
	value := 1.0
	peak := 1.0
	maxDD := 0.0
	maxDuration := 0
	drawdownStart := -1
	for i, r := range returns {
		value *= 1 + r
		if value >= peak {
			peak = value
			if drawdownStart >= 0 {
				if d := i - drawdownStart; d > maxDuration {
					maxDuration = d
				}
				drawdownStart = -1
			}
			continue
		}
		if drawdownStart < 0 {
			drawdownStart = i
		}
		if dd := (peak - value) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD, maxDuration
}

func (e *Engine) allMetricsFlagged() []string {
	flags := []string{
		MetricVolatility,
		MetricMeanReturn,
		MetricSharpe,
		MetricMaxDrawdown,
		MetricRiskContribution,
		MetricStressTest,
	}
	for _, confidence := range e.confidenceLevels {
		key := confidenceKey(confidence)
		flags = append(flags,
			MetricVaRHistorical+"_"+key,
			MetricVaRParametric+"_"+key,
			MetricCVaR+"_"+key,
		)
	}
	return flags
}

func confidenceKey(confidence float64) string {
	return strconv.FormatFloat(confidence, 'g', -1, 64)
}
