package holdings

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMergesDuplicatesWithWeightedAverageCost(t *testing.T) {
	rows := []Row{
		{Ticker: "AAPL", Shares: "100", AvgCost: "150", CostCurrency: "USD"},
		{Ticker: "aapl", Shares: "50", AvgCost: "180", CostCurrency: "USD"},
	}

	holdings, rejected := Load(rows, "JPY")

	require.Empty(t, rejected)
	require.Len(t, holdings, 1)

	h := holdings[0]
	assert.Equal(t, "AAPL", h.Ticker)
	assert.True(t, h.Shares.Equal(decimal.NewFromInt(150)), "shares = %s", h.Shares)
	// (100*150 + 50*180) / 150 = 160
	assert.True(t, h.AvgCost.Equal(decimal.NewFromInt(160)), "avgCost = %s", h.AvgCost)
	assert.Equal(t, "USD", h.CostCurrency)
}

func TestLoadIsOrderIndependent(t *testing.T) {
	rows := []Row{
		{Ticker: "AAPL", Shares: "100", AvgCost: "150", CostCurrency: "USD"},
		{Ticker: "7203.T", Shares: "300", AvgCost: "2100"},
		{Ticker: "AAPL", Shares: "50", AvgCost: "180", CostCurrency: "USD"},
	}
	reversed := []Row{rows[2], rows[1], rows[0]}

	forward, _ := Load(rows, "JPY")
	backward, _ := Load(reversed, "JPY")

	require.Equal(t, len(forward), len(backward))
	for i := range forward {
		assert.Equal(t, forward[i].Ticker, backward[i].Ticker)
		assert.True(t, forward[i].Shares.Equal(backward[i].Shares))
		assert.True(t, forward[i].AvgCost.Equal(backward[i].AvgCost))
		assert.Equal(t, forward[i].CostCurrency, backward[i].CostCurrency)
	}
}

func TestLoadDefaultsCostCurrencyToBase(t *testing.T) {
	holdings, rejected := Load([]Row{{Ticker: "7203.T", Shares: "300", AvgCost: "2100"}}, "JPY")

	require.Empty(t, rejected)
	require.Len(t, holdings, 1)
	assert.Equal(t, "JPY", holdings[0].CostCurrency)
}

func TestLoadRejectsInvalidRows(t *testing.T) {
	rows := []Row{
		{Ticker: "", Shares: "10", AvgCost: "5"},
		{Ticker: "AAPL", Shares: "abc", AvgCost: "5"},
		{Ticker: "MSFT", Shares: "-3", AvgCost: "5"},
		{Ticker: "GOOG", Shares: "0", AvgCost: "5"},
		{Ticker: "NVDA", Shares: "10", AvgCost: "-1"},
		{Ticker: "TSLA", Shares: "10", AvgCost: "200.5", CostCurrency: "usd"},
	}

	holdings, rejected := Load(rows, "JPY")

	require.Len(t, holdings, 1)
	assert.Equal(t, "TSLA", holdings[0].Ticker)
	assert.Equal(t, "USD", holdings[0].CostCurrency)

	require.Len(t, rejected, 5)
	for i, r := range rejected {
		assert.Equal(t, i, r.Index)
		assert.NotEmpty(t, r.Reason)
	}
}

func TestLoadRejectsWholeTickerOnCurrencyConflict(t *testing.T) {
	rows := []Row{
		{Ticker: "AAPL", Shares: "100", AvgCost: "150", CostCurrency: "USD"},
		{Ticker: "AAPL", Shares: "50", AvgCost: "20000", CostCurrency: "JPY"},
		{Ticker: "MSFT", Shares: "10", AvgCost: "400", CostCurrency: "USD"},
	}

	holdings, rejected := Load(rows, "JPY")

	require.Len(t, holdings, 1)
	assert.Equal(t, "MSFT", holdings[0].Ticker)

	require.Len(t, rejected, 2)
	for _, r := range rejected {
		assert.Equal(t, "AAPL", r.Ticker)
	}
}

func TestLoadParsesThousandsSeparators(t *testing.T) {
	holdings, rejected := Load([]Row{{Ticker: "7203.T", Shares: "1,200", AvgCost: "2,100.50"}}, "JPY")

	require.Empty(t, rejected)
	require.Len(t, holdings, 1)
	assert.True(t, holdings[0].Shares.Equal(decimal.NewFromInt(1200)))
	assert.True(t, holdings[0].AvgCost.Equal(decimal.RequireFromString("2100.50")))
}

func TestCurrencyForTicker(t *testing.T) {
	assert.Equal(t, "JPY", CurrencyForTicker("7203.T"))
	assert.Equal(t, "GBP", CurrencyForTicker("HSBA.L"))
	assert.Equal(t, "EUR", CurrencyForTicker("AIR.PA"))
	assert.Equal(t, "HKD", CurrencyForTicker("0700.HK"))
	assert.Equal(t, "USD", CurrencyForTicker("AAPL"))
}
