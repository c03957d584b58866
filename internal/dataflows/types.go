// Package dataflows provides the market data capability: prices,
// fundamentals, and news, fetched from public sources behind a
// file-backed cache.
package dataflows

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceBar is one day of OHLCV data.
type PriceBar struct {
	Symbol    string          `json:"symbol"`
	Date      time.Time       `json:"date"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	AdjClose  decimal.Decimal `json:"adj_close"`
	Volume    int64           `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// FinancialMetrics carries the fundamentals snapshot the analysis
// agents read.
type FinancialMetrics struct {
	Symbol           string          `json:"symbol"`
	MarketCap        int64           `json:"market_cap"`
	PERatio          float64         `json:"pe_ratio"`
	ForwardPE        float64         `json:"forward_pe"`
	EPS              float64         `json:"eps"`
	ForwardEPS       float64         `json:"forward_eps"`
	PriceToBook      float64         `json:"price_to_book"`
	BookValue        float64         `json:"book_value"`
	DividendYield    float64         `json:"dividend_yield"`
	FiftyTwoWeekLow  decimal.Decimal `json:"fifty_two_week_low"`
	FiftyTwoWeekHigh decimal.Decimal `json:"fifty_two_week_high"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	FetchedAt        time.Time       `json:"fetched_at"`
}

// NewsArticle is one scraped headline with optional body text.
type NewsArticle struct {
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

// ValidateSymbol rejects tickers that no upstream would accept.
func ValidateSymbol(symbol string) error {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))
	if len(symbol) == 0 {
		return fmt.Errorf("symbol cannot be empty")
	}
	if len(symbol) > 10 {
		return fmt.Errorf("symbol too long: %s", symbol)
	}
	return nil
}

// NormalizeSymbol converts a ticker to its canonical upper-case form.
func NormalizeSymbol(symbol string) string {
	return strings.TrimSpace(strings.ToUpper(symbol))
}
