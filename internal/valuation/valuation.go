// Package valuation converts holdings and market data into per-position
// profit/loss lines expressed in a single base currency.
package valuation

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/ymgta/pfrisk/internal/externalApi"
	"github.com/ymgta/pfrisk/internal/gateway"
	"github.com/ymgta/pfrisk/internal/model"
)

var ErrMissingFXRate = errors.New("missing fx rate")

type Engine struct {
	baseCurrency string
}

func New(baseCurrency string) *Engine {
	return &Engine{baseCurrency: baseCurrency}
}

// Valuate produces one line per holding. A holding with a missing quote
// or FX rate yields an unvaluable line carrying the reason; it never
// fails the pass. Market value uses the quote currency's rate to base,
// cost basis is converted from the holding's declared cost currency
// independently. Line weights are left zero; the assembler fills them
// once totals are known.
func (e *Engine) Valuate(
	holdings []model.Holding,
	quotes map[string]gateway.QuoteResult,
	rates map[string]model.FXRate,
) []model.ValuationLine {
	lines := make([]model.ValuationLine, 0, len(holdings))
	for _, h := range holdings {
		lines = append(lines, e.valuateOne(h, quotes, rates))
	}
	return lines
}

func (e *Engine) valuateOne(
	h model.Holding,
	quotes map[string]gateway.QuoteResult,
	rates map[string]model.FXRate,
) model.ValuationLine {
	line := model.ValuationLine{
		Ticker: h.Ticker,
		Shares: h.Shares,
	}

	qr, ok := quotes[h.Ticker]
	if !ok {
		return unvaluable(line, model.WarningMissingQuote, "no quote fetched")
	}
	if qr.Err != nil {
		return unvaluable(line, quoteWarningKind(qr.Err), qr.Err.Error())
	}

	quote := qr.Quote
	line.Price = quote.Price
	line.Currency = quote.Currency
	line.Stale = qr.Stale
	line.QuoteAsOf = quote.AsOf

	priceRate, err := e.rateToBase(quote.Currency, rates)
	if err != nil {
		return unvaluable(line, model.WarningMissingFXRate, fmt.Sprintf("no %s/%s rate for quote", quote.Currency, e.baseCurrency))
	}
	line.FXRate = priceRate

	costRate, err := e.rateToBase(h.CostCurrency, rates)
	if err != nil {
		return unvaluable(line, model.WarningMissingFXRate, fmt.Sprintf("no %s/%s rate for cost basis", h.CostCurrency, e.baseCurrency))
	}

	line.MarketValue = h.Shares.Mul(quote.Price).Mul(priceRate)
	line.CostBasis = h.Shares.Mul(h.AvgCost).Mul(costRate)
	line.PnL = line.MarketValue.Sub(line.CostBasis)
	if line.CostBasis.IsPositive() {
		line.PnLPct = line.PnL.Div(line.CostBasis)
	}

	slog.Debug(
		"valuated holding",
		slog.String("ticker", h.Ticker),
		slog.String("marketValue", line.MarketValue.String()),
		slog.String("pnl", line.PnL.String()),
	)

	return line
}

func (e *Engine) rateToBase(currency string, rates map[string]model.FXRate) (decimal.Decimal, error) {
	if currency == e.baseCurrency || currency == "" {
		return decimal.NewFromInt(1), nil
	}
	pair := model.CurrencyPair{Base: currency, Quote: e.baseCurrency}
	rate, ok := rates[pair.String()]
	if !ok || !rate.Rate.IsPositive() {
		return decimal.Decimal{}, ErrMissingFXRate
	}
	return rate.Rate, nil
}

func quoteWarningKind(err error) model.WarningKind {
	switch {
	case errors.Is(err, gateway.ErrTimeout):
		return model.WarningFetchTimeout
	case errors.Is(err, externalApi.ErrNotFound):
		return model.WarningMissingQuote
	default:
		return model.WarningUpstreamError
	}
}

func unvaluable(line model.ValuationLine, kind model.WarningKind, reason string) model.ValuationLine {
	line.Unvaluable = true
	line.ReasonKind = kind
	line.Reason = reason
	return line
}
