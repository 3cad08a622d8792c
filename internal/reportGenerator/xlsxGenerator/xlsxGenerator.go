package xlsxGenerator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ymgta/pfrisk/internal/model"
	"github.com/ymgta/pfrisk/utils"
)

const sheetName = "Portfolio"

type XLSXGenerator struct{}

func New() *XLSXGenerator {
	return &XLSXGenerator{}
}

func (g *XLSXGenerator) Generate(ctx context.Context, r model.PortfolioReport) (fileBytes []byte, fileExtension string, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "XLSXGenerator.Generate"

	slog.Debug("Generate start", slog.String("rqID", rqID), slog.String("op", op))

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("got error while closing file", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		}
	}()

	if _, err := f.NewSheet(sheetName); err != nil {
		slog.Error("got error while creating NewSheet", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, "", err
	}

	rowNum, err := g.fillValuation(f, r)
	if err != nil {
		return nil, "", err
	}

	rowNum, err = g.fillRisk(f, r, rowNum+2)
	if err != nil {
		return nil, "", err
	}

	if _, err := g.fillWarnings(f, r, rowNum+2); err != nil {
		return nil, "", err
	}

	if err := f.DeleteSheet("Sheet1"); err != nil {
		slog.Error("got error while deleting Sheet1", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		slog.Error("got error while saving file to bytes buffer", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, "", err
	}

	slog.Debug("Generate completed", slog.String("rqID", rqID), slog.String("op", op))

	return buf.Bytes(), ".xlsx", nil
}

func (g *XLSXGenerator) headerStyle(f *excelize.File, color string) (int, error) {
	return f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
		Font: &excelize.Font{
			Bold: true,
			Size: 11,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Pattern: 1,
			Color:   []string{color},
		},
	})
}

func (g *XLSXGenerator) sectionHeader(f *excelize.File, firstCell, lastCell, title, color string) error {
	if err := f.MergeCell(sheetName, firstCell, lastCell); err != nil {
		return err
	}

	f.SetCellValue(sheetName, firstCell, title)

	styleID, err := g.headerStyle(f, color)
	if err != nil {
		return err
	}

	if err := f.SetCellStyle(sheetName, firstCell, firstCell, styleID); err != nil {
		return fmt.Errorf("failed to apply style: %w", err)
	}

	return nil
}

// fillValuation writes the per-holding valuation table and the totals
// block beneath it, returning the last written row number.
func (g *XLSXGenerator) fillValuation(f *excelize.File, r model.PortfolioReport) (int, error) {
	title := fmt.Sprintf("Holdings (%s)", r.BaseCurrency)
	if err := g.sectionHeader(f, "A1", "J1", title, "#cfe2f3"); err != nil {
		return 0, err
	}

	_ = f.SetCellStr(sheetName, "A2", "ticker")
	_ = f.SetCellStr(sheetName, "B2", "shares")
	_ = f.SetCellStr(sheetName, "C2", "price")
	_ = f.SetCellStr(sheetName, "D2", "currency")
	_ = f.SetCellStr(sheetName, "E2", "market value")
	_ = f.SetCellStr(sheetName, "F2", "cost basis")
	_ = f.SetCellStr(sheetName, "G2", "p/l")
	_ = f.SetCellStr(sheetName, "H2", "p/l %")
	_ = f.SetCellStr(sheetName, "I2", "weight %")
	_ = f.SetCellStr(sheetName, "J2", "note")

	rowNum := 2
	for _, line := range r.Lines {
		rowNum++
		_ = f.SetCellStr(sheetName, fmt.Sprintf("A%d", rowNum), line.Ticker)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", rowNum), line.Shares.InexactFloat64())

		if line.Unvaluable {
			_ = f.SetCellStr(sheetName, fmt.Sprintf("J%d", rowNum), line.Reason)
			continue
		}

		_ = f.SetCellValue(sheetName, fmt.Sprintf("C%d", rowNum), line.Price.InexactFloat64())
		_ = f.SetCellStr(sheetName, fmt.Sprintf("D%d", rowNum), line.Currency)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("E%d", rowNum), line.MarketValue.InexactFloat64())
		_ = f.SetCellValue(sheetName, fmt.Sprintf("F%d", rowNum), line.CostBasis.InexactFloat64())
		_ = f.SetCellValue(sheetName, fmt.Sprintf("G%d", rowNum), line.PnL.InexactFloat64())
		_ = f.SetCellValue(sheetName, fmt.Sprintf("H%d", rowNum), line.PnLPct.InexactFloat64())
		_ = f.SetCellValue(sheetName, fmt.Sprintf("I%d", rowNum), line.Weight.InexactFloat64())
		if line.Stale {
			_ = f.SetCellStr(sheetName, fmt.Sprintf("J%d", rowNum), "stale quote")
		}
	}

	rowNum += 2
	if err := g.sectionHeader(f, fmt.Sprintf("A%d", rowNum), fmt.Sprintf("D%d", rowNum), "Totals", "#d9ead3"); err != nil {
		return 0, err
	}

	totals := []struct {
		label string
		value any
	}{
		{"market value", r.Totals.MarketValue.InexactFloat64()},
		{"cost basis", r.Totals.CostBasis.InexactFloat64()},
		{"p/l", r.Totals.PnL.InexactFloat64()},
		{"p/l %", r.Totals.PnLPct.InexactFloat64()},
		{"valuable holdings", r.Totals.ValuableLines},
		{"excluded holdings", r.Totals.ExcludedLines},
		{"winners", r.Totals.Winners},
		{"losers", r.Totals.Losers},
		{"best ticker", r.Totals.BestTicker},
		{"worst ticker", r.Totals.WorstTicker},
	}
	for _, t := range totals {
		rowNum++
		_ = f.SetCellStr(sheetName, fmt.Sprintf("A%d", rowNum), t.label)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", rowNum), t.value)
	}

	return rowNum, nil
}

// fillRisk writes the portfolio risk metrics as label/value pairs,
// returning the last written row number.
func (g *XLSXGenerator) fillRisk(f *excelize.File, r model.PortfolioReport, rowNum int) (int, error) {
	if err := g.sectionHeader(f, fmt.Sprintf("A%d", rowNum), fmt.Sprintf("D%d", rowNum), "Risk", "#f9cb9c"); err != nil {
		return 0, err
	}

	metrics := []struct {
		label string
		value any
	}{
		{"annualized volatility", r.Risk.VolatilityAnnualized},
		{"annualized mean return", r.Risk.MeanReturnAnnualized},
		{"sharpe ratio", r.Risk.SharpeRatio},
		{"max drawdown", r.Risk.MaxDrawdown},
		{"max drawdown duration (days)", r.Risk.MaxDrawdownDuration},
		{"observations", r.Risk.Observations},
	}

	confidences := make([]string, 0, len(r.Risk.VaRHistorical))
	for key := range r.Risk.VaRHistorical {
		confidences = append(confidences, key)
	}
	sort.Strings(confidences)

	for _, key := range confidences {
		metrics = append(metrics,
			struct {
				label string
				value any
			}{fmt.Sprintf("VaR %s (historical)", key), r.Risk.VaRHistorical[key]},
			struct {
				label string
				value any
			}{fmt.Sprintf("VaR %s (parametric)", key), r.Risk.VaRParametric[key]},
			struct {
				label string
				value any
			}{fmt.Sprintf("CVaR %s", key), r.Risk.CVaR[key]},
		)
	}

	if st := r.Risk.StressTest; st != nil {
		metrics = append(metrics,
			struct {
				label string
				value any
			}{"stressed volatility (daily)", st.StressedVolatilityDaily},
			struct {
				label string
				value any
			}{"stress multiplier", st.Multiplier},
		)
	}

	for _, m := range metrics {
		rowNum++
		_ = f.SetCellStr(sheetName, fmt.Sprintf("A%d", rowNum), m.label)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", rowNum), m.value)
	}

	if len(r.Risk.RiskContribution) > 0 {
		tickers := make([]string, 0, len(r.Risk.RiskContribution))
		for ticker := range r.Risk.RiskContribution {
			tickers = append(tickers, ticker)
		}
		sort.Strings(tickers)
		for _, ticker := range tickers {
			rowNum++
			_ = f.SetCellStr(sheetName, fmt.Sprintf("A%d", rowNum), fmt.Sprintf("risk contribution %s", ticker))
			_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", rowNum), r.Risk.RiskContribution[ticker])
		}
	}

	if len(r.Risk.ExcludedTickers) > 0 {
		rowNum++
		_ = f.SetCellStr(sheetName, fmt.Sprintf("A%d", rowNum), "excluded from risk")
		_ = f.SetCellStr(sheetName, fmt.Sprintf("B%d", rowNum), fmt.Sprintf("%v", r.Risk.ExcludedTickers))
	}

	return rowNum, nil
}

func (g *XLSXGenerator) fillWarnings(f *excelize.File, r model.PortfolioReport, rowNum int) (int, error) {
	if err := g.sectionHeader(f, fmt.Sprintf("A%d", rowNum), fmt.Sprintf("D%d", rowNum), "Warnings", "#f4cccc"); err != nil {
		return 0, err
	}

	rowNum++
	_ = f.SetCellStr(sheetName, fmt.Sprintf("A%d", rowNum), "ticker")
	_ = f.SetCellStr(sheetName, fmt.Sprintf("B%d", rowNum), "kind")
	_ = f.SetCellStr(sheetName, fmt.Sprintf("C%d", rowNum), "detail")

	for _, w := range r.Warnings {
		rowNum++
		_ = f.SetCellStr(sheetName, fmt.Sprintf("A%d", rowNum), w.Ticker)
		_ = f.SetCellStr(sheetName, fmt.Sprintf("B%d", rowNum), string(w.Kind))
		_ = f.SetCellStr(sheetName, fmt.Sprintf("C%d", rowNum), w.Detail)
	}

	rowNum += 2
	_ = f.SetCellStr(sheetName, fmt.Sprintf("A%d", rowNum), "generated at")
	_ = f.SetCellStr(sheetName, fmt.Sprintf("B%d", rowNum), r.GeneratedAt.Format(time.RFC3339))

	return rowNum, nil
}
