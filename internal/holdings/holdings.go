// Package holdings normalizes raw portfolio rows into model.Holding values.
package holdings

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/ymgta/pfrisk/internal/model"
)

// Row is one raw input row as supplied by the caller (upload, API body).
// Numeric fields arrive as strings so malformed input can be rejected
// per row instead of failing the decode of the whole batch.
type Row struct {
	Ticker       string `json:"ticker"`
	Shares       string `json:"shares"`
	AvgCost      string `json:"avgCost"`
	CostCurrency string `json:"costCurrency,omitempty"`
}

type RejectedRow struct {
	Index  int    `json:"index"`
	Ticker string `json:"ticker"`
	Reason string `json:"reason"`
}

type accumulator struct {
	shares     decimal.Decimal
	costSum    decimal.Decimal // sum of shares_i * avgCost_i
	currencies map[string]struct{}
	rowIndexes []int
}

// Load validates rows and merges duplicate tickers by summing shares and
// taking the share-weighted average cost. The merge is commutative:
// permuting the input yields the same holdings. Rows of a ticker whose
// duplicates disagree on cost currency are all rejected, so the outcome
// stays order-independent. Valid holdings are returned sorted by ticker
// together with the rejected rows.
func Load(rows []Row, baseCurrency string) ([]model.Holding, []RejectedRow) {
	acc := make(map[string]*accumulator)
	var rejected []RejectedRow

	for i, row := range rows {
		ticker := strings.ToUpper(strings.TrimSpace(row.Ticker))
		if ticker == "" {
			rejected = append(rejected, RejectedRow{Index: i, Ticker: row.Ticker, Reason: "empty ticker"})
			continue
		}

		shares, err := parseDecimal(row.Shares)
		if err != nil {
			rejected = append(rejected, RejectedRow{Index: i, Ticker: ticker, Reason: fmt.Sprintf("unparseable shares %q", row.Shares)})
			continue
		}
		if !shares.IsPositive() {
			rejected = append(rejected, RejectedRow{Index: i, Ticker: ticker, Reason: fmt.Sprintf("shares must be positive, got %s", shares)})
			continue
		}

		avgCost, err := parseDecimal(row.AvgCost)
		if err != nil {
			rejected = append(rejected, RejectedRow{Index: i, Ticker: ticker, Reason: fmt.Sprintf("unparseable average cost %q", row.AvgCost)})
			continue
		}
		if avgCost.IsNegative() {
			rejected = append(rejected, RejectedRow{Index: i, Ticker: ticker, Reason: fmt.Sprintf("average cost must not be negative, got %s", avgCost)})
			continue
		}

		currency := strings.ToUpper(strings.TrimSpace(row.CostCurrency))
		if currency == "" {
			currency = baseCurrency
		}

		a, ok := acc[ticker]
		if !ok {
			a = &accumulator{currencies: make(map[string]struct{})}
			acc[ticker] = a
		}
		a.shares = a.shares.Add(shares)
		a.costSum = a.costSum.Add(shares.Mul(avgCost))
		a.currencies[currency] = struct{}{}
		a.rowIndexes = append(a.rowIndexes, i)
	}

	holdings := make([]model.Holding, 0, len(acc))
	for ticker, a := range acc {
		if len(a.currencies) > 1 {
			for _, idx := range a.rowIndexes {
				rejected = append(rejected, RejectedRow{Index: idx, Ticker: ticker, Reason: "conflicting cost currency across duplicate rows"})
			}
			continue
		}
		var currency string
		for c := range a.currencies {
			currency = c
		}
		holdings = append(holdings, model.Holding{
			Ticker:       ticker,
			Shares:       a.shares,
			AvgCost:      a.costSum.Div(a.shares),
			CostCurrency: currency,
		})
	}

	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Ticker < holdings[j].Ticker })
	sort.Slice(rejected, func(i, j int) bool { return rejected[i].Index < rejected[j].Index })

	if len(rejected) > 0 {
		slog.Warn("holdings load rejected rows", slog.Int("rejected", len(rejected)), slog.Int("accepted", len(holdings)))
	}

	return holdings, rejected
}

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("empty value")
	}
	return decimal.NewFromString(s)
}
