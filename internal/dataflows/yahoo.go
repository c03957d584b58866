package dataflows

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/equity"
	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"

	"github.com/quantclan/HedgeCouncil/internal/capability"
)

// YahooClient fetches quotes, OHLCV history, and fundamentals from
// Yahoo Finance.
type YahooClient struct {
	cache *Cache
	retry capability.RetryPolicy
}

func NewYahooClient(cacheDir string, cacheEnabled bool, retry capability.RetryPolicy) *YahooClient {
	return &YahooClient{
		cache: NewCache(filepath.Join(cacheDir, "yahoo_finance"), 24*time.Hour, cacheEnabled),
		retry: retry,
	}
}

// GetPrices returns daily bars for [start, end].
func (yc *YahooClient) GetPrices(ctx context.Context, symbol string, start, end time.Time) ([]*PriceBar, error) {
	if err := ValidateSymbol(symbol); err != nil {
		return nil, capability.Permanent("prices", err)
	}
	symbol = NormalizeSymbol(symbol)

	cacheKey := map[string]any{
		"symbol": symbol,
		"start":  start.Format("2006-01-02"),
		"end":    end.Format("2006-01-02"),
	}
	var cached []*PriceBar
	if yc.cache.Get("yahoo", "historical", cacheKey, &cached) {
		return cached, nil
	}

	bars, err := capability.Retry(ctx, yc.retry, func() ([]*PriceBar, error) {
		params := &chart.Params{
			Symbol:   symbol,
			Start:    datetime.New(&start),
			End:      datetime.New(&end),
			Interval: datetime.OneDay,
		}
		iter := chart.Get(params)

		out := make([]*PriceBar, 0)
		for iter.Next() {
			bar := iter.Bar()
			out = append(out, &PriceBar{
				Symbol:    symbol,
				Date:      time.Unix(int64(bar.Timestamp), 0),
				Open:      bar.Open,
				High:      bar.High,
				Low:       bar.Low,
				Close:     bar.Close,
				AdjClose:  bar.AdjClose,
				Volume:    int64(bar.Volume),
				Timestamp: time.Now(),
			})
		}
		if err := iter.Err(); err != nil {
			return nil, classifyUpstream("prices", fmt.Errorf("historical data for %s: %w", symbol, err))
		}
		if len(out) == 0 {
			return nil, capability.Permanent("prices", fmt.Errorf("no price data for %s in %s to %s",
				symbol, start.Format("2006-01-02"), end.Format("2006-01-02")))
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	yc.cache.Set("yahoo", "historical", cacheKey, bars)
	return bars, nil
}

// GetQuote returns the latest bar for a symbol.
func (yc *YahooClient) GetQuote(ctx context.Context, symbol string) (*PriceBar, error) {
	if err := ValidateSymbol(symbol); err != nil {
		return nil, capability.Permanent("quote", err)
	}
	symbol = NormalizeSymbol(symbol)

	var cached PriceBar
	if yc.cache.Get("yahoo", "quote", symbol, &cached) {
		return &cached, nil
	}

	bar, err := capability.Retry(ctx, yc.retry, func() (*PriceBar, error) {
		q, err := quote.Get(symbol)
		if err != nil {
			return nil, classifyUpstream("quote", fmt.Errorf("quote for %s: %w", symbol, err))
		}
		return &PriceBar{
			Symbol:    symbol,
			Date:      time.Now(),
			Open:      decimal.NewFromFloat(q.RegularMarketOpen),
			High:      decimal.NewFromFloat(q.RegularMarketDayHigh),
			Low:       decimal.NewFromFloat(q.RegularMarketDayLow),
			Close:     decimal.NewFromFloat(q.RegularMarketPrice),
			AdjClose:  decimal.NewFromFloat(q.RegularMarketPrice),
			Volume:    int64(q.RegularMarketVolume),
			Timestamp: time.Now(),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	yc.cache.Set("yahoo", "quote", symbol, bar)
	return bar, nil
}

// GetMetrics returns the fundamentals snapshot derived from the
// current quote.
func (yc *YahooClient) GetMetrics(ctx context.Context, symbol string) (*FinancialMetrics, error) {
	if err := ValidateSymbol(symbol); err != nil {
		return nil, capability.Permanent("metrics", err)
	}
	symbol = NormalizeSymbol(symbol)

	var cached FinancialMetrics
	if yc.cache.Get("yahoo", "metrics", symbol, &cached) {
		return &cached, nil
	}

	metrics, err := capability.Retry(ctx, yc.retry, func() (*FinancialMetrics, error) {
		q, err := equity.Get(symbol)
		if err != nil {
			return nil, classifyUpstream("metrics", fmt.Errorf("fundamentals for %s: %w", symbol, err))
		}
		return &FinancialMetrics{
			Symbol:           symbol,
			MarketCap:        q.MarketCap,
			PERatio:          q.TrailingPE,
			ForwardPE:        q.ForwardPE,
			EPS:              q.EpsTrailingTwelveMonths,
			ForwardEPS:       q.EpsForward,
			PriceToBook:      q.PriceToBook,
			BookValue:        q.BookValue,
			DividendYield:    q.TrailingAnnualDividendYield,
			FiftyTwoWeekLow:  decimal.NewFromFloat(q.FiftyTwoWeekLow),
			FiftyTwoWeekHigh: decimal.NewFromFloat(q.FiftyTwoWeekHigh),
			CurrentPrice:     decimal.NewFromFloat(q.RegularMarketPrice),
			FetchedAt:        time.Now(),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	yc.cache.Set("yahoo", "metrics", symbol, metrics)
	return metrics, nil
}

// classifyUpstream buckets Yahoo errors. Unknown symbols and malformed
// requests are permanent; everything network shaped is transient.
func classifyUpstream(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return capability.Transient(op, err)
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"not found", "invalid", "no data", "unknown symbol"} {
		if strings.Contains(msg, marker) {
			return capability.Permanent(op, err)
		}
	}
	return capability.Transient(op, err)
}
