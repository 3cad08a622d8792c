// Package report merges valuation lines and the risk snapshot into the
// final immutable PortfolioReport.
package report

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ymgta/pfrisk/internal/model"
)

// ErrNoValuableHoldings is the only fatal outcome of report assembly:
// not a single holding could be priced.
var ErrNoValuableHoldings = errors.New("no valuable holdings")

// Assemble computes portfolio totals over valuable lines, fills per-line
// weights, and attaches the collected data-quality warnings. Partial
// data degrades the report with warnings; it fails only when nothing at
// all could be valuated.
func Assemble(
	lines []model.ValuationLine,
	risk model.RiskReport,
	warnings []model.Warning,
	baseCurrency string,
) (model.PortfolioReport, error) {
	totals := model.PortfolioTotals{}

	var bestPnL, worstPnL decimal.Decimal
	for _, line := range lines {
		if line.Unvaluable {
			totals.ExcludedLines++
			continue
		}
		totals.ValuableLines++
		totals.MarketValue = totals.MarketValue.Add(line.MarketValue)
		totals.CostBasis = totals.CostBasis.Add(line.CostBasis)
		totals.PnL = totals.PnL.Add(line.PnL)

		if line.PnL.IsPositive() {
			totals.Winners++
		} else if line.PnL.IsNegative() {
			totals.Losers++
		}
		if totals.BestTicker == "" || line.PnL.GreaterThan(bestPnL) {
			totals.BestTicker = line.Ticker
			bestPnL = line.PnL
		}
		if totals.WorstTicker == "" || line.PnL.LessThan(worstPnL) {
			totals.WorstTicker = line.Ticker
			worstPnL = line.PnL
		}
	}

	if totals.ValuableLines == 0 {
		return model.PortfolioReport{}, ErrNoValuableHoldings
	}

	if totals.CostBasis.IsPositive() {
		totals.PnLPct = totals.PnL.Div(totals.CostBasis)
	}

	// weights are written into a copy so the caller's slice stays intact
	reportLines := make([]model.ValuationLine, len(lines))
	copy(reportLines, lines)

	unvaluable := make(map[string]bool, totals.ExcludedLines)
	for i := range reportLines {
		line := &reportLines[i]
		if line.Unvaluable {
			unvaluable[line.Ticker] = true
			warnings = append(warnings, model.Warning{
				Ticker: line.Ticker,
				Kind:   line.ReasonKind,
				Detail: line.Reason,
			})
			continue
		}
		if totals.MarketValue.IsPositive() {
			line.Weight = line.MarketValue.Div(totals.MarketValue)
		}
		if line.Stale {
			warnings = append(warnings, model.Warning{
				Ticker: line.Ticker,
				Kind:   model.WarningStaleData,
				Detail: fmt.Sprintf("quote as of %s served from expired cache", line.QuoteAsOf.Format(time.RFC3339)),
			})
		}
	}

	for _, ticker := range risk.ExcludedTickers {
		// an unvaluable line already carries its own warning; a second
		// one about missing history would point at the wrong cause
		if unvaluable[ticker] {
			continue
		}
		warnings = append(warnings, model.Warning{
			Ticker: ticker,
			Kind:   model.WarningInsufficientHistory,
			Detail: "excluded from portfolio risk statistics",
		})
	}

	return model.PortfolioReport{
		BaseCurrency: baseCurrency,
		Lines:        reportLines,
		Totals:       totals,
		Risk:         risk,
		Warnings:     warnings,
		GeneratedAt:  time.Now().UTC(),
	}, nil
}
