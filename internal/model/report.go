package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type WarningKind string

const (
	WarningValidation          WarningKind = "validation_error"
	WarningMissingQuote        WarningKind = "missing_quote"
	WarningFetchTimeout        WarningKind = "fetch_timeout"
	WarningUpstreamError       WarningKind = "upstream_error"
	WarningMissingFXRate       WarningKind = "missing_fx_rate"
	WarningStaleData           WarningKind = "stale_data"
	WarningInsufficientHistory WarningKind = "insufficient_history"
)

// Warning is a per-item data-quality note attached to the final report
// instead of failing the whole pass.
type Warning struct {
	Ticker string      `json:"ticker,omitempty"`
	Kind   WarningKind `json:"kind"`
	Detail string      `json:"detail,omitempty"`
}

// ValuationLine is the per-holding valuation outcome, all monetary
// figures expressed in the report's base currency. Recomputed on every
// pass, never mutated in place.
type ValuationLine struct {
	Ticker      string          `json:"ticker"`
	Shares      decimal.Decimal `json:"shares"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	FXRate      decimal.Decimal `json:"fxRate"`
	MarketValue decimal.Decimal `json:"marketValue"`
	CostBasis   decimal.Decimal `json:"costBasis"`
	PnL         decimal.Decimal `json:"pnl"`
	PnLPct      decimal.Decimal `json:"pnlPct"`
	Weight      decimal.Decimal `json:"weight"`
	Stale       bool            `json:"stale,omitempty"`
	Unvaluable  bool            `json:"unvaluable,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	ReasonKind  WarningKind     `json:"-"`
	QuoteAsOf   time.Time       `json:"quoteAsOf"`
}

// StressTest compares daily portfolio volatility under normal
// conditions against a scenario where per-ticker volatilities are
// scaled up and all pairwise correlations jump to a crisis level.
type StressTest struct {
	NormalVolatilityDaily   float64 `json:"normalVolatilityDaily"`
	StressedVolatilityDaily float64 `json:"stressedVolatilityDaily"`
	Multiplier              float64 `json:"multiplier"`
	VolatilityFactor        float64 `json:"volatilityFactor"`
	CorrelationShock        float64 `json:"correlationShock"`
}

// RiskReport is an immutable portfolio-level risk snapshot. All ratios
// are dimensionless decimals; confidence-keyed maps use keys like "0.95".
type RiskReport struct {
	VolatilityAnnualized float64            `json:"volatilityAnnualized"`
	MeanReturnAnnualized float64            `json:"meanReturnAnnualized"`
	SharpeRatio          float64            `json:"sharpeRatio"`
	VaRHistorical        map[string]float64 `json:"varHistorical"`
	VaRParametric        map[string]float64 `json:"varParametric"`
	CVaR                 map[string]float64 `json:"cvar"`
	MaxDrawdown          float64            `json:"maxDrawdown"`
	MaxDrawdownDuration  int                `json:"maxDrawdownDuration"`
	RiskContribution     map[string]float64 `json:"riskContribution,omitempty"`
	StressTest           *StressTest        `json:"stressTest,omitempty"`
	Observations         int                `json:"observations"`
	ExcludedTickers      []string           `json:"excludedTickers,omitempty"`
	InsufficientData     []string           `json:"insufficientData,omitempty"`
	AsOf                 time.Time          `json:"asOf"`
}

type PortfolioTotals struct {
	MarketValue   decimal.Decimal `json:"marketValue"`
	CostBasis     decimal.Decimal `json:"costBasis"`
	PnL           decimal.Decimal `json:"pnl"`
	PnLPct        decimal.Decimal `json:"pnlPct"`
	ValuableLines int             `json:"valuableLines"`
	ExcludedLines int             `json:"excludedLines"`
	Winners       int             `json:"winners"`
	Losers        int             `json:"losers"`
	BestTicker    string          `json:"bestTicker,omitempty"`
	WorstTicker   string          `json:"worstTicker,omitempty"`
}

// PortfolioReport merges valuation lines and the risk snapshot with the
// data-quality warnings collected along the way.
type PortfolioReport struct {
	BaseCurrency string          `json:"baseCurrency"`
	Lines        []ValuationLine `json:"lines"`
	Totals       PortfolioTotals `json:"totals"`
	Risk         RiskReport      `json:"risk"`
	Warnings     []Warning       `json:"warnings,omitempty"`
	GeneratedAt  time.Time       `json:"generatedAt"`
}
