package portfolioService

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ymgta/pfrisk/config"
	"github.com/ymgta/pfrisk/internal/gateway"
	"github.com/ymgta/pfrisk/internal/holdings"
	"github.com/ymgta/pfrisk/internal/model"
	"github.com/ymgta/pfrisk/internal/report"
	"github.com/ymgta/pfrisk/internal/service"
	"github.com/ymgta/pfrisk/utils"
)

type Gateway interface {
	FetchQuotes(ctx context.Context, tickers []string) map[string]gateway.QuoteResult
	FetchHistories(ctx context.Context, tickers []string, lookbackDays int) map[string]gateway.SeriesResult
	FetchFXRates(ctx context.Context, pairs []model.CurrencyPair) map[string]gateway.FXResult
}

type ValuationEngine interface {
	Valuate(holdings []model.Holding, quotes map[string]gateway.QuoteResult, rates map[string]model.FXRate) []model.ValuationLine
}

type RiskEngine interface {
	Analyze(seriesByTicker map[string]model.PriceSeries, weights map[string]float64) model.RiskReport
}

type ReportGenerator interface {
	Generate(ctx context.Context, portfolioReport model.PortfolioReport) (fileBytes []byte, fileExtension string, err error)
}

type CloudStorage interface {
	UploadFile(ctx context.Context, reader io.Reader, filename string) (downloadLink string, err error)
}

type PortfolioService struct {
	cfg          *config.Config
	gateway      Gateway
	valuation    ValuationEngine
	risk         RiskEngine
	reportGen    ReportGenerator
	cloudStorage CloudStorage
}

func New(
	cfg *config.Config,
	gw Gateway,
	valuation ValuationEngine,
	risk RiskEngine,
	reportGen ReportGenerator,
	cloudStorage CloudStorage,
) *PortfolioService {
	return &PortfolioService{
		cfg:          cfg,
		gateway:      gw,
		valuation:    valuation,
		risk:         risk,
		reportGen:    reportGen,
		cloudStorage: cloudStorage,
	}
}

// BuildReport runs the full pipeline: load and merge holdings, fetch
// quotes, FX rates and price history, valuate, analyze risk, assemble.
// Per-item failures become warnings on the report; the only hard
// failures are an empty holdings set and report.ErrNoValuableHoldings.
func (s *PortfolioService) BuildReport(ctx context.Context, rows []holdings.Row) (model.PortfolioReport, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.BuildReport"

	slog.Debug("BuildReport start", slog.String("rqID", rqID), slog.String("op", op), slog.Int("rows", len(rows)))
	defer func() {
		slog.Debug("BuildReport finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	if len(rows) == 0 {
		return model.PortfolioReport{}, service.ErrNoHoldings
	}

	loaded, rejected := holdings.Load(rows, s.cfg.Portfolio.BaseCurrency)

	warnings := make([]model.Warning, 0, len(rejected))
	for _, r := range rejected {
		warnings = append(warnings, model.Warning{
			Ticker: r.Ticker,
			Kind:   model.WarningValidation,
			Detail: fmt.Sprintf("row %d: %s", r.Index, r.Reason),
		})
	}

	if len(loaded) == 0 {
		slog.Warn("no valid holdings after load", slog.String("rqID", rqID), slog.String("op", op), slog.Int("rejected", len(rejected)))
		return model.PortfolioReport{}, report.ErrNoValuableHoldings
	}

	tickers := make([]string, 0, len(loaded))
	for _, h := range loaded {
		tickers = append(tickers, h.Ticker)
	}

	quotes := s.gateway.FetchQuotes(ctx, tickers)

	// a provider may omit the quote currency; fall back to the
	// exchange-suffix mapping before deriving FX pairs
	for ticker, qr := range quotes {
		if qr.Err == nil && qr.Quote.Currency == "" {
			qr.Quote.Currency = holdings.CurrencyForTicker(ticker)
			quotes[ticker] = qr
		}
	}

	rates, fxWarnings := s.fetchRates(ctx, loaded, quotes)
	warnings = append(warnings, fxWarnings...)

	lines := s.valuation.Valuate(loaded, quotes, rates)

	histories := s.gateway.FetchHistories(ctx, tickers, s.cfg.Gateway.LookbackDays)
	seriesByTicker := make(map[string]model.PriceSeries, len(histories))
	for ticker, sr := range histories {
		if sr.Err != nil {
			warnings = append(warnings, model.Warning{
				Ticker: ticker,
				Kind:   historyWarningKind(sr.Err),
				Detail: sr.Err.Error(),
			})
			continue
		}
		seriesByTicker[ticker] = sr.Series
	}

	riskReport := s.risk.Analyze(seriesByTicker, valueWeights(lines))

	portfolioReport, err := report.Assemble(lines, riskReport, warnings, s.cfg.Portfolio.BaseCurrency)
	if err != nil {
		slog.Error("report assembly failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.PortfolioReport{}, err
	}

	slog.Info(
		"portfolio report built",
		slog.String("rqID", rqID),
		slog.String("op", op),
		slog.Int("lines", len(portfolioReport.Lines)),
		slog.Int("warnings", len(portfolioReport.Warnings)),
	)

	return portfolioReport, nil
}

// ExportReport builds the report, renders it to a spreadsheet and
// uploads it to cloud storage, returning the share link.
func (s *PortfolioService) ExportReport(ctx context.Context, rows []holdings.Row) (string, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.ExportReport"

	slog.Debug("ExportReport start", slog.String("rqID", rqID), slog.String("op", op))
	defer func() {
		slog.Debug("ExportReport finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	if s.cloudStorage == nil {
		return "", service.ErrExportNotConfigured
	}

	portfolioReport, err := s.BuildReport(ctx, rows)
	if err != nil {
		return "", err
	}

	fileBytes, ext, err := s.reportGen.Generate(ctx, portfolioReport)
	if err != nil {
		slog.Error("report generation failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return "", err
	}

	filename := fmt.Sprintf("portfolio_report_%s%s", portfolioReport.GeneratedAt.Format("20060102_150405"), ext)

	link, err := s.cloudStorage.UploadFile(ctx, bytes.NewReader(fileBytes), filename)
	if err != nil {
		slog.Error("report upload failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return "", err
	}

	return link, nil
}

// WarmCache re-fetches quotes and FX rates for the configured watchlist
// so interactive report builds hit a fresh cache. Run as a scheduler job.
func (s *PortfolioService) WarmCache(ctx context.Context) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.WarmCache"

	watchlist := s.cfg.Portfolio.Watchlist
	if len(watchlist) == 0 {
		return nil
	}

	slog.Debug("WarmCache start", slog.String("rqID", rqID), slog.String("op", op), slog.Int("tickers", len(watchlist)))

	quotes := s.gateway.FetchQuotes(ctx, watchlist)

	currencies := make(map[string]struct{})
	failed := 0
	for ticker, qr := range quotes {
		if qr.Err != nil {
			failed++
			continue
		}
		currency := qr.Quote.Currency
		if currency == "" {
			currency = holdings.CurrencyForTicker(ticker)
		}
		if currency != s.cfg.Portfolio.BaseCurrency {
			currencies[currency] = struct{}{}
		}
	}

	pairs := make([]model.CurrencyPair, 0, len(currencies))
	for currency := range currencies {
		pairs = append(pairs, model.CurrencyPair{Base: currency, Quote: s.cfg.Portfolio.BaseCurrency})
	}
	s.gateway.FetchFXRates(ctx, pairs)

	s.gateway.FetchHistories(ctx, watchlist, s.cfg.Gateway.LookbackDays)

	slog.Info("WarmCache completed", slog.String("rqID", rqID), slog.String("op", op), slog.Int("failedQuotes", failed))

	return nil
}

// fetchRates derives the FX pairs needed to express quotes and cost
// bases in the base currency and fetches them, converting per-pair
// fetch failures into warnings. Degraded (stale) rates are used as-is.
func (s *PortfolioService) fetchRates(
	ctx context.Context,
	loaded []model.Holding,
	quotes map[string]gateway.QuoteResult,
) (map[string]model.FXRate, []model.Warning) {
	base := s.cfg.Portfolio.BaseCurrency

	currencies := make(map[string]struct{})
	for _, qr := range quotes {
		if qr.Err == nil && qr.Quote.Currency != "" && qr.Quote.Currency != base {
			currencies[qr.Quote.Currency] = struct{}{}
		}
	}
	for _, h := range loaded {
		if h.CostCurrency != "" && h.CostCurrency != base {
			currencies[h.CostCurrency] = struct{}{}
		}
	}

	pairs := make([]model.CurrencyPair, 0, len(currencies))
	for currency := range currencies {
		pairs = append(pairs, model.CurrencyPair{Base: currency, Quote: base})
	}

	results := s.gateway.FetchFXRates(ctx, pairs)

	rates := make(map[string]model.FXRate, len(results))
	var warnings []model.Warning
	for key, res := range results {
		if res.Err != nil {
			warnings = append(warnings, model.Warning{
				Kind:   model.WarningMissingFXRate,
				Detail: fmt.Sprintf("pair %s: %s", key, res.Err),
			})
			continue
		}
		if res.Stale {
			warnings = append(warnings, model.Warning{
				Kind:   model.WarningStaleData,
				Detail: fmt.Sprintf("fx rate %s as of %s served from expired cache", key, res.Rate.AsOf.Format(time.RFC3339)),
			})
		}
		rates[key] = res.Rate
	}

	return rates, warnings
}

// historyWarningKind distinguishes transport failures from a genuinely
// short series: a timed-out or failed fetch says nothing about how much
// history exists.
func historyWarningKind(err error) model.WarningKind {
	switch {
	case errors.Is(err, gateway.ErrTimeout):
		return model.WarningFetchTimeout
	case errors.Is(err, gateway.ErrUpstream):
		return model.WarningUpstreamError
	default:
		return model.WarningInsufficientHistory
	}
}

// valueWeights maps each valuable ticker to its share of total portfolio
// market value, feeding the risk engine's cross-sectional weighting.
func valueWeights(lines []model.ValuationLine) map[string]float64 {
	weights := make(map[string]float64, len(lines))
	total := 0.0
	values := make(map[string]float64, len(lines))
	for _, line := range lines {
		if line.Unvaluable {
			continue
		}
		v, _ := line.MarketValue.Float64()
		if v <= 0 {
			continue
		}
		values[line.Ticker] = v
		total += v
	}
	if total <= 0 {
		return weights
	}
	for ticker, v := range values {
		weights[ticker] = v / total
	}
	return weights
}
