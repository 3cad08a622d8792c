package yahooApi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/ymgta/pfrisk/config"
	"github.com/ymgta/pfrisk/internal/externalApi"
	"github.com/ymgta/pfrisk/internal/model"
	"github.com/ymgta/pfrisk/utils"
)

// YahooApi fetches quotes, FX rates and daily price history from the
// Yahoo Finance chart endpoint. FX pairs are quoted through the
// synthetic "<BASE><QUOTE>=X" symbols.
type YahooApi struct {
	client *resty.Client
}

func New(cfg *config.Config) *YahooApi {
	client := resty.New().
		SetDebug(cfg.API.Debug).
		SetBaseURL(cfg.API.YahooApi.Url).
		SetHeader("User-Agent", "pfrisk/1.0")
	return &YahooApi{client: client}
}

type chartResult struct {
	Meta struct {
		Currency           string  `json:"currency"`
		RegularMarketPrice float64 `json:"regularMarketPrice"`
		RegularMarketTime  int64   `json:"regularMarketTime"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Close []*float64 `json:"close"`
		} `json:"quote"`
	} `json:"indicators"`
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (a *YahooApi) GetQuote(ctx context.Context, ticker string) (model.Quote, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "YahooApi.GetQuote"

	slog.Debug("GetQuote start", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", ticker))

	chart, err := a.getChart(ctx, ticker, 1)
	if err != nil {
		slog.Error("GetQuote failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", ticker), slog.String("err", err.Error()))
		return model.Quote{}, err
	}

	price := chart.Meta.RegularMarketPrice
	if price <= 0 {
		return model.Quote{}, fmt.Errorf("invalid market price %f for %s: %w", price, ticker, externalApi.ErrNotFound)
	}

	asOf := time.Now().UTC()
	if chart.Meta.RegularMarketTime > 0 {
		asOf = time.Unix(chart.Meta.RegularMarketTime, 0).UTC()
	}

	slog.Debug("GetQuote finished", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", ticker))

	return model.Quote{
		Ticker:   ticker,
		Price:    decimal.NewFromFloat(price),
		Currency: chart.Meta.Currency,
		AsOf:     asOf,
	}, nil
}

func (a *YahooApi) GetHistory(ctx context.Context, ticker string, days int) (model.PriceSeries, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "YahooApi.GetHistory"

	slog.Debug("GetHistory start", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", ticker), slog.Int("days", days))

	chart, err := a.getChart(ctx, ticker, days)
	if err != nil {
		slog.Error("GetHistory failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", ticker), slog.String("err", err.Error()))
		return model.PriceSeries{}, err
	}

	if len(chart.Indicators.Quote) == 0 {
		return model.PriceSeries{}, fmt.Errorf("no close series for %s: %w", ticker, externalApi.ErrNotFound)
	}

	closes := chart.Indicators.Quote[0].Close
	points := make([]model.PricePoint, 0, len(closes))
	var lastDate time.Time
	for i, ts := range chart.Timestamp {
		if i >= len(closes) || closes[i] == nil || *closes[i] <= 0 {
			continue
		}
		// normalize to the UTC trading date so series align across tickers
		date := time.Unix(ts, 0).UTC().Truncate(24 * time.Hour)
		if !lastDate.IsZero() && !date.After(lastDate) {
			continue
		}
		points = append(points, model.PricePoint{Date: date, Price: *closes[i]})
		lastDate = date
	}

	if len(points) == 0 {
		return model.PriceSeries{}, fmt.Errorf("empty history for %s: %w", ticker, externalApi.ErrNotFound)
	}

	slog.Debug("GetHistory finished", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", ticker), slog.Int("points", len(points)))

	return model.PriceSeries{Ticker: ticker, Points: points}, nil
}

func (a *YahooApi) GetFXRate(ctx context.Context, base, quote string) (model.FXRate, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "YahooApi.GetFXRate"

	symbol := fmt.Sprintf("%s%s=X", base, quote)

	slog.Debug("GetFXRate start", slog.String("rqID", rqID), slog.String("op", op), slog.String("symbol", symbol))

	chart, err := a.getChart(ctx, symbol, 1)
	if err != nil {
		slog.Error("GetFXRate failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("symbol", symbol), slog.String("err", err.Error()))
		return model.FXRate{}, err
	}

	rate := chart.Meta.RegularMarketPrice
	if rate <= 0 {
		return model.FXRate{}, fmt.Errorf("invalid fx rate %f for %s: %w", rate, symbol, externalApi.ErrNotFound)
	}

	asOf := time.Now().UTC()
	if chart.Meta.RegularMarketTime > 0 {
		asOf = time.Unix(chart.Meta.RegularMarketTime, 0).UTC()
	}

	slog.Debug("GetFXRate finished", slog.String("rqID", rqID), slog.String("op", op), slog.String("symbol", symbol))

	return model.FXRate{
		Base:  base,
		Quote: quote,
		Rate:  decimal.NewFromFloat(rate),
		AsOf:  asOf,
	}, nil
}

func (a *YahooApi) getChart(ctx context.Context, symbol string, days int) (*chartResult, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetQueryParams(map[string]string{
			"interval": "1d",
			"range":    fmt.Sprintf("%dd", days),
		}).
		Get(fmt.Sprintf("/v8/finance/chart/%s", symbol))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode() == 404 {
		return nil, fmt.Errorf("symbol %s: %w", symbol, externalApi.ErrNotFound)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("yahoo finance returned status %d for %s", resp.StatusCode(), symbol)
	}

	parsed := chartResponse{}
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("can't unmarshal chart response for %s: %w", symbol, err)
	}

	if parsed.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo finance error %s for %s: %w", parsed.Chart.Error.Code, symbol, externalApi.ErrNotFound)
	}
	if len(parsed.Chart.Result) == 0 {
		return nil, fmt.Errorf("no chart result for %s: %w", symbol, externalApi.ErrNotFound)
	}

	return &parsed.Chart.Result[0], nil
}
