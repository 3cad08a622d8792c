package risk

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ymgta/pfrisk/internal/model"
)

func day(i int) time.Time {
	return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
}

// seriesFromReturns builds a price series whose simple returns equal
// the given sequence exactly.
func seriesFromReturns(ticker string, returns []float64) model.PriceSeries {
	points := []model.PricePoint{{Date: day(0), Price: 100}}
	price := 100.0
	for i, r := range returns {
		price *= 1 + r
		points = append(points, model.PricePoint{Date: day(i + 1), Price: price})
	}
	return model.PriceSeries{Ticker: ticker, Points: points}
}

func alternatingReturns(n int) []float64 {
	returns := make([]float64, n)
	for i := range returns {
		if i%2 == 0 {
			returns[i] = 0.01
		} else {
			returns[i] = -0.01
		}
	}
	return returns
}

func TestAnalyzeConstantPricesHaveZeroVolatility(t *testing.T) {
	engine := New(5, 2, []float64{0.95})

	series := seriesFromReturns("7203.T", make([]float64, 10))
	report := engine.Analyze(
		map[string]model.PriceSeries{"7203.T": series},
		map[string]float64{"7203.T": 1},
	)

	assert.Equal(t, 10, report.Observations)
	assert.Zero(t, report.VolatilityAnnualized)
	assert.Zero(t, report.MeanReturnAnnualized)
	assert.Zero(t, report.MaxDrawdown)
	assert.Contains(t, report.InsufficientData, MetricSharpe)
	// zero variance leaves nothing to decompose or stress
	assert.Contains(t, report.InsufficientData, MetricRiskContribution)
	assert.Contains(t, report.InsufficientData, MetricStressTest)
	assert.Nil(t, report.StressTest)
}

func TestAnalyzeHistoricalVaRAndCVaR(t *testing.T) {
	engine := New(5, 2, []float64{0.95})

	series := seriesFromReturns("AAPL", alternatingReturns(40))
	report := engine.Analyze(
		map[string]model.PriceSeries{"AAPL": series},
		map[string]float64{"AAPL": 1},
	)

	require.Equal(t, 40, report.Observations)

	// half the returns sit at exactly -1%, so both the 95% quantile and
	// the tail mean land there
	assert.InDelta(t, 0.01, report.VaRHistorical["0.95"], 1e-12)
	assert.InDelta(t, 0.01, report.CVaR["0.95"], 1e-12)
	assert.GreaterOrEqual(t, report.CVaR["0.95"], report.VaRHistorical["0.95"])

	assert.Positive(t, report.VaRParametric["0.95"])
	assert.InDelta(t, 0.01*math.Sqrt(tradingDaysPerYear)*math.Sqrt(40.0/39.0), report.VolatilityAnnualized, 1e-9)
}

func TestAnalyzeVaRIncreasesWithConfidence(t *testing.T) {
	engine := New(5, 2, []float64{0.95, 0.99})

	returns := alternatingReturns(60)
	returns[10] = -0.08 // one bad day deepens the far tail
	series := seriesFromReturns("AAPL", returns)

	report := engine.Analyze(
		map[string]model.PriceSeries{"AAPL": series},
		map[string]float64{"AAPL": 1},
	)

	assert.GreaterOrEqual(t, report.VaRHistorical["0.99"], report.VaRHistorical["0.95"])
	assert.Greater(t, report.VaRParametric["0.99"], report.VaRParametric["0.95"])
	assert.GreaterOrEqual(t, report.CVaR["0.95"], report.VaRHistorical["0.95"])
}

func TestAnalyzeMaxDrawdown(t *testing.T) {
	engine := New(3, 2, []float64{0.95})

	// 100 -> 90 -> 81 -> 89.1: trough is 19% below the peak
	series := seriesFromReturns("AAPL", []float64{-0.1, -0.1, 0.1})
	report := engine.Analyze(
		map[string]model.PriceSeries{"AAPL": series},
		map[string]float64{"AAPL": 1},
	)

	assert.InDelta(t, 0.19, report.MaxDrawdown, 1e-12)
}

func TestAnalyzeMaxDrawdownDuration(t *testing.T) {
	engine := New(3, 2, []float64{0.95})

	// 100 -> 90 -> 81 -> 105.3 -> 84.24: the first drawdown recovers
	// after two observations, the second never recovers and is not
	// counted toward the duration
	series := seriesFromReturns("AAPL", []float64{-0.1, -0.1, 0.3, -0.2})
	report := engine.Analyze(
		map[string]model.PriceSeries{"AAPL": series},
		map[string]float64{"AAPL": 1},
	)

	assert.InDelta(t, 0.2, report.MaxDrawdown, 1e-12)
	assert.Equal(t, 2, report.MaxDrawdownDuration)
}

func TestAnalyzeRiskContribution(t *testing.T) {
	engine := New(5, 2, []float64{0.95})

	base := alternatingReturns(20)
	doubled := make([]float64, len(base))
	for i, r := range base {
		doubled[i] = 2 * r
	}

	report := engine.Analyze(
		map[string]model.PriceSeries{
			"AAPL": seriesFromReturns("AAPL", base),
			"MSFT": seriesFromReturns("MSFT", doubled),
		},
		map[string]float64{"AAPL": 0.5, "MSFT": 0.5},
	)

	require.Len(t, report.RiskContribution, 2)

	// MSFT moves twice as much as AAPL on every date, so equal weights
	// put two thirds of the variance on MSFT
	assert.InDelta(t, 1.0/3.0, report.RiskContribution["AAPL"], 1e-9)
	assert.InDelta(t, 2.0/3.0, report.RiskContribution["MSFT"], 1e-9)

	sum := 0.0
	for _, c := range report.RiskContribution {
		sum += c
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestAnalyzeStressTestSingleTicker(t *testing.T) {
	engine := New(5, 2, []float64{0.95})

	report := engine.Analyze(
		map[string]model.PriceSeries{"AAPL": seriesFromReturns("AAPL", alternatingReturns(20))},
		map[string]float64{"AAPL": 1},
	)

	require.NotNil(t, report.StressTest)

	// a single constituent has no correlation term, so the stressed
	// volatility is exactly the scaled one
	assert.InDelta(t, stressVolatilityFactor, report.StressTest.Multiplier, 1e-9)
	assert.InDelta(t,
		report.StressTest.NormalVolatilityDaily*stressVolatilityFactor,
		report.StressTest.StressedVolatilityDaily, 1e-12)
	assert.Positive(t, report.StressTest.NormalVolatilityDaily)
	assert.Equal(t, stressCorrelationShock, report.StressTest.CorrelationShock)
	assert.InDelta(t, 1.0, report.RiskContribution["AAPL"], 1e-9)
}

func TestAnalyzeExcludesShortSeries(t *testing.T) {
	engine := New(10, 2, []float64{0.95})

	long := seriesFromReturns("AAPL", alternatingReturns(20))
	short := seriesFromReturns("MSFT", alternatingReturns(3))

	report := engine.Analyze(
		map[string]model.PriceSeries{"AAPL": long, "MSFT": short},
		map[string]float64{"AAPL": 0.5, "MSFT": 0.5},
	)

	assert.Equal(t, []string{"MSFT"}, report.ExcludedTickers)
	// AAPL's weight is renormalized to 1, so the portfolio matches its
	// single remaining constituent
	assert.Equal(t, 20, report.Observations)
	assert.InDelta(t, 0.01*math.Sqrt(tradingDaysPerYear)*math.Sqrt(20.0/19.0), report.VolatilityAnnualized, 1e-9)
}

func TestAnalyzeExcludesZeroWeightTickers(t *testing.T) {
	engine := New(5, 2, []float64{0.95})

	series := seriesFromReturns("AAPL", alternatingReturns(20))
	unweighted := seriesFromReturns("MSFT", alternatingReturns(20))

	report := engine.Analyze(
		map[string]model.PriceSeries{"AAPL": series, "MSFT": unweighted},
		map[string]float64{"AAPL": 1},
	)

	assert.Equal(t, []string{"MSFT"}, report.ExcludedTickers)
}

func TestAnalyzeInnerJoinAlignment(t *testing.T) {
	engine := New(5, 2, []float64{0.95})

	a := seriesFromReturns("AAPL", alternatingReturns(20))
	b := seriesFromReturns("MSFT", alternatingReturns(12))

	report := engine.Analyze(
		map[string]model.PriceSeries{"AAPL": a, "MSFT": b},
		map[string]float64{"AAPL": 0.5, "MSFT": 0.5},
	)

	// only the 12 shared dates survive the join
	assert.Equal(t, 12, report.Observations)
	assert.Empty(t, report.ExcludedTickers)
}

func TestAnalyzeInsufficientObservationsFlagsEverything(t *testing.T) {
	engine := New(30, 2, []float64{0.95, 0.99})

	series := seriesFromReturns("AAPL", alternatingReturns(10))
	report := engine.Analyze(
		map[string]model.PriceSeries{"AAPL": series},
		map[string]float64{"AAPL": 1},
	)

	assert.Equal(t, []string{"AAPL"}, report.ExcludedTickers)
	assert.Zero(t, report.Observations)
	assert.Contains(t, report.InsufficientData, MetricVolatility)
	assert.Contains(t, report.InsufficientData, MetricVaRHistorical+"_0.95")
	assert.Contains(t, report.InsufficientData, MetricCVaR+"_0.99")
	assert.Empty(t, report.VaRHistorical)
}

func TestAnalyzeEmptyInput(t *testing.T) {
	engine := New(30, 2, []float64{0.95})

	report := engine.Analyze(nil, nil)

	assert.Zero(t, report.Observations)
	assert.NotEmpty(t, report.InsufficientData)
}
