// Package gateway fronts the market data provider with a TTL cache,
// bounded concurrency and per-request timeouts. Failures are reported
// per symbol; one bad ticker never aborts its siblings.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ymgta/pfrisk/config"
	"github.com/ymgta/pfrisk/data/cache"
	"github.com/ymgta/pfrisk/internal/externalApi"
	"github.com/ymgta/pfrisk/internal/model"
	"github.com/ymgta/pfrisk/utils"
)

const (
	quoteKeyPrefix   = "quote:"
	historyKeyPrefix = "history:"
	fxKeyPrefix      = "fx:"
)

type Provider interface {
	GetQuote(ctx context.Context, ticker string) (model.Quote, error)
	GetHistory(ctx context.Context, ticker string, days int) (model.PriceSeries, error)
	GetFXRate(ctx context.Context, base, quote string) (model.FXRate, error)
}

type Cache interface {
	Get(ctx context.Context, key string) (payload []byte, fetchedAt time.Time, err error)
	Set(ctx context.Context, key string, payload []byte, fetchedAt time.Time) error
}

type QuoteResult struct {
	Quote model.Quote
	Stale bool
	Err   error
}

type SeriesResult struct {
	Series model.PriceSeries
	Stale  bool
	Err    error
}

type FXResult struct {
	Rate  model.FXRate
	Stale bool
	Err   error
}

type Gateway struct {
	provider Provider
	cache    Cache
	cfg      *config.Config
	sem      chan struct{}
}

func New(provider Provider, c Cache, cfg *config.Config) *Gateway {
	return &Gateway{
		provider: provider,
		cache:    c,
		cfg:      cfg,
		sem:      make(chan struct{}, cfg.Gateway.MaxConcurrentRequests),
	}
}

// FetchQuotes resolves current quotes for the given tickers. The result
// map always contains one entry per distinct ticker; entries that were
// still in flight when ctx was cancelled carry the context error, but
// their fetches run to completion and populate the cache for later calls.
func (g *Gateway) FetchQuotes(ctx context.Context, tickers []string) map[string]QuoteResult {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Gateway.FetchQuotes"

	tickers = dedupe(tickers)

	slog.Debug("FetchQuotes start", slog.String("rqID", rqID), slog.String("op", op), slog.Int("tickers", len(tickers)))

	var mu sync.Mutex
	results := make(map[string]QuoteResult, len(tickers))

	collect(ctx, tickers, func(ticker string) {
		res := g.fetchQuote(ctx, ticker)
		mu.Lock()
		results[ticker] = res
		mu.Unlock()
	})

	mu.Lock()
	out := make(map[string]QuoteResult, len(tickers))
	for _, ticker := range tickers {
		if res, ok := results[ticker]; ok {
			out[ticker] = res
		} else {
			out[ticker] = QuoteResult{Err: ctx.Err()}
		}
	}
	mu.Unlock()

	slog.Debug("FetchQuotes finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int("tickers", len(tickers)))

	return out
}

// FetchHistories resolves daily price series over the lookback window.
func (g *Gateway) FetchHistories(ctx context.Context, tickers []string, lookbackDays int) map[string]SeriesResult {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Gateway.FetchHistories"

	tickers = dedupe(tickers)

	slog.Debug("FetchHistories start", slog.String("rqID", rqID), slog.String("op", op), slog.Int("tickers", len(tickers)))

	var mu sync.Mutex
	results := make(map[string]SeriesResult, len(tickers))

	collect(ctx, tickers, func(ticker string) {
		res := g.fetchHistory(ctx, ticker, lookbackDays)
		mu.Lock()
		results[ticker] = res
		mu.Unlock()
	})

	mu.Lock()
	out := make(map[string]SeriesResult, len(tickers))
	for _, ticker := range tickers {
		if res, ok := results[ticker]; ok {
			out[ticker] = res
		} else {
			out[ticker] = SeriesResult{Err: ctx.Err()}
		}
	}
	mu.Unlock()

	slog.Debug("FetchHistories finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int("tickers", len(tickers)))

	return out
}

// FetchFXRates resolves conversion rates for the given currency pairs,
// keyed by pair string (e.g. "USDJPY").
func (g *Gateway) FetchFXRates(ctx context.Context, pairs []model.CurrencyPair) map[string]FXResult {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Gateway.FetchFXRates"

	pairs = dedupePairs(pairs)

	slog.Debug("FetchFXRates start", slog.String("rqID", rqID), slog.String("op", op), slog.Int("pairs", len(pairs)))

	var mu sync.Mutex
	results := make(map[string]FXResult, len(pairs))

	keys := make([]string, len(pairs))
	byKey := make(map[string]model.CurrencyPair, len(pairs))
	for i, pair := range pairs {
		keys[i] = pair.String()
		byKey[keys[i]] = pair
	}

	collect(ctx, keys, func(key string) {
		res := g.fetchFXRate(ctx, byKey[key])
		mu.Lock()
		results[key] = res
		mu.Unlock()
	})

	mu.Lock()
	out := make(map[string]FXResult, len(pairs))
	for _, key := range keys {
		if res, ok := results[key]; ok {
			out[key] = res
		} else {
			out[key] = FXResult{Err: ctx.Err()}
		}
	}
	mu.Unlock()

	slog.Debug("FetchFXRates finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int("pairs", len(pairs)))

	return out
}

// collect runs fn for every key and waits until all complete or ctx is
// cancelled. On cancellation the remaining goroutines keep running so
// their results still land in the cache.
func collect(ctx context.Context, keys []string, fn func(key string)) {
	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			fn(k)
		}(key)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (g *Gateway) fetchQuote(ctx context.Context, ticker string) QuoteResult {
	key := quoteKeyPrefix + ticker

	var stale *model.Quote
	if payload, fetchedAt, err := g.cache.Get(ctx, key); err == nil {
		quote := model.Quote{}
		if err := json.Unmarshal(payload, &quote); err == nil {
			if time.Since(fetchedAt) < g.cfg.Cache.Expiration {
				return QuoteResult{Quote: quote}
			}
			stale = &quote
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		slog.Warn("quote cache read failed", slog.String("ticker", ticker), slog.String("err", err.Error()))
	}

	quote, err := fetchOne(ctx, g, key, func(fetchCtx context.Context) (model.Quote, error) {
		return g.provider.GetQuote(fetchCtx, ticker)
	})
	if err != nil {
		if stale != nil {
			slog.Warn("serving stale quote", slog.String("ticker", ticker), slog.String("err", err.Error()))
			return QuoteResult{Quote: *stale, Stale: true}
		}
		return QuoteResult{Err: err}
	}

	return QuoteResult{Quote: quote}
}

func (g *Gateway) fetchHistory(ctx context.Context, ticker string, lookbackDays int) SeriesResult {
	key := fmt.Sprintf("%s%s:%d", historyKeyPrefix, ticker, lookbackDays)

	var stale *model.PriceSeries
	if payload, fetchedAt, err := g.cache.Get(ctx, key); err == nil {
		series := model.PriceSeries{}
		if err := json.Unmarshal(payload, &series); err == nil {
			if time.Since(fetchedAt) < g.cfg.Cache.Expiration {
				return SeriesResult{Series: series}
			}
			stale = &series
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		slog.Warn("history cache read failed", slog.String("ticker", ticker), slog.String("err", err.Error()))
	}

	series, err := fetchOne(ctx, g, key, func(fetchCtx context.Context) (model.PriceSeries, error) {
		return g.provider.GetHistory(fetchCtx, ticker, lookbackDays)
	})
	if err != nil {
		if stale != nil {
			slog.Warn("serving stale history", slog.String("ticker", ticker), slog.String("err", err.Error()))
			return SeriesResult{Series: *stale, Stale: true}
		}
		return SeriesResult{Err: err}
	}

	return SeriesResult{Series: series}
}

func (g *Gateway) fetchFXRate(ctx context.Context, pair model.CurrencyPair) FXResult {
	key := fxKeyPrefix + pair.String()

	var stale *model.FXRate
	if payload, fetchedAt, err := g.cache.Get(ctx, key); err == nil {
		rate := model.FXRate{}
		if err := json.Unmarshal(payload, &rate); err == nil {
			if time.Since(fetchedAt) < g.cfg.Cache.Expiration {
				return FXResult{Rate: rate}
			}
			stale = &rate
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		slog.Warn("fx cache read failed", slog.String("pair", pair.String()), slog.String("err", err.Error()))
	}

	rate, err := fetchOne(ctx, g, key, func(fetchCtx context.Context) (model.FXRate, error) {
		return g.provider.GetFXRate(fetchCtx, pair.Base, pair.Quote)
	})
	if err != nil {
		if stale != nil {
			slog.Warn("serving stale fx rate", slog.String("pair", pair.String()), slog.String("err", err.Error()))
			return FXResult{Rate: *stale, Stale: true}
		}
		return FXResult{Err: err}
	}

	return FXResult{Rate: rate}
}

// fetchOne performs one provider call under the concurrency semaphore
// with an independent timeout, then writes the result to its cache slot.
// The fetch context is detached from the caller's so cancellation lets
// in-flight requests complete and warm the cache.
func fetchOne[T any](ctx context.Context, g *Gateway, key string, call func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	select {
	case g.sem <- struct{}{}:
		defer func() { <-g.sem }()
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.Gateway.RequestTimeout)
	defer cancel()

	value, err := call(fetchCtx)
	if err != nil {
		return zero, classifyErr(err)
	}

	payload, err := json.Marshal(value)
	if err != nil {
		slog.Error("can't marshal value for cache", slog.String("key", key), slog.String("err", err.Error()))
		return value, nil
	}
	if err := g.cache.Set(fetchCtx, key, payload, time.Now()); err != nil {
		slog.Warn("cache write failed", slog.String("key", key), slog.String("err", err.Error()))
	}

	return value, nil
}

func classifyErr(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, externalApi.ErrNotFound):
		return err
	default:
		return fmt.Errorf("%w: %s", ErrUpstream, err)
	}
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

func dedupePairs(pairs []model.CurrencyPair) []model.CurrencyPair {
	seen := make(map[string]struct{}, len(pairs))
	out := make([]model.CurrencyPair, 0, len(pairs))
	for _, pair := range pairs {
		if _, ok := seen[pair.String()]; ok {
			continue
		}
		seen[pair.String()] = struct{}{}
		out = append(out, pair)
	}
	return out
}
