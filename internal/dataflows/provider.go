package dataflows

import (
	"context"
	"time"

	"github.com/quantclan/HedgeCouncil/internal/capability"
	"github.com/quantclan/HedgeCouncil/internal/config"
)

// Provider is the market data surface agents depend on. Implementations
// return capability-classified errors so callers can tell transient
// upstream trouble from a hopeless request.
type Provider interface {
	GetPrices(ctx context.Context, symbol string, start, end time.Time) ([]*PriceBar, error)
	GetQuote(ctx context.Context, symbol string) (*PriceBar, error)
	GetMetrics(ctx context.Context, symbol string) (*FinancialMetrics, error)
	GetNews(ctx context.Context, symbol string, maxResults int) ([]*NewsArticle, error)
}

// Service combines the Yahoo and news clients behind the Provider
// interface, with a per-call timeout from config.
type Service struct {
	yahoo   *YahooClient
	news    *NewsClient
	timeout time.Duration
}

func NewService(cfg config.Config) *Service {
	retry := capability.DefaultRetryPolicy()
	retry.MaxAttempts = uint(cfg.MaxRetryAttempts)
	timeout := time.Duration(cfg.DataTimeoutSec) * time.Second

	return &Service{
		yahoo:   NewYahooClient(cfg.DataCacheDir, cfg.CacheEnabled, retry),
		news:    NewNewsClient(cfg.DataCacheDir, cfg.CacheEnabled, timeout, retry),
		timeout: timeout,
	}
}

func (s *Service) GetPrices(ctx context.Context, symbol string, start, end time.Time) ([]*PriceBar, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.yahoo.GetPrices(ctx, symbol, start, end)
}

func (s *Service) GetQuote(ctx context.Context, symbol string) (*PriceBar, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.yahoo.GetQuote(ctx, symbol)
}

func (s *Service) GetMetrics(ctx context.Context, symbol string) (*FinancialMetrics, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.yahoo.GetMetrics(ctx, symbol)
}

func (s *Service) GetNews(ctx context.Context, symbol string, maxResults int) ([]*NewsArticle, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.news.GetCompanyNews(ctx, symbol, maxResults)
}
