package agents

import (
	"context"
	"time"

	"github.com/quantclan/HedgeCouncil/consts"
	"github.com/quantclan/HedgeCouncil/internal/dataflows"
	"github.com/quantclan/HedgeCouncil/internal/state"
	"github.com/quantclan/HedgeCouncil/internal/workflow"
)

const defaultLookbackDays = 90

// collectMarketData is the source node: the only agent that talks to
// the market data capability. Everything downstream reads its keys.
func collectMarketData(deps Deps) workflow.AgentFunc {
	return func(ctx context.Context, snapshot *state.AnalysisState) (*state.AnalysisState, error) {
		ticker := stateTicker(snapshot)
		end := stateDate(snapshot, consts.KeyEndDate, time.Now())
		start := stateDate(snapshot, consts.KeyStartDate, end.AddDate(0, 0, -defaultLookbackDays))
		numOfNews := stateInt(snapshot, consts.KeyNumOfNews, 5)

		prices, err := deps.Data.GetPrices(ctx, ticker, start, end)
		if err != nil {
			return nil, err
		}
		quote, err := deps.Data.GetQuote(ctx, ticker)
		if err != nil {
			return nil, err
		}
		metrics, err := deps.Data.GetMetrics(ctx, ticker)
		if err != nil {
			return nil, err
		}
		news, err := deps.Data.GetNews(ctx, ticker, numOfNews)
		if err != nil {
			return nil, err
		}

		delta := state.Delta()
		delta.Data[consts.KeyPrices] = barsToState(prices)
		delta.Data[consts.KeyFinancialMetrics] = metricsToState(metrics)
		delta.Data[consts.KeyNews] = newsToState(news)
		delta.Data[consts.KeyStartDate] = start.Format("2006-01-02")
		delta.Data[consts.KeyEndDate] = end.Format("2006-01-02")
		delta.Data[consts.KeyMarketData] = map[string]any{
			"ticker":        ticker,
			"bar_count":     len(prices),
			"current_price": quote.Close.InexactFloat64(),
			"volume":        float64(quote.Volume),
			"market_cap":    float64(metrics.MarketCap),
			"range": map[string]any{
				"start": start.Format("2006-01-02"),
				"end":   end.Format("2006-01-02"),
			},
		}
		return delta, nil
	}
}

// barsToState flattens price bars to plain JSON types so the merge and
// snapshot layers stay shape-stable.
func barsToState(bars []*dataflows.PriceBar) []any {
	out := make([]any, 0, len(bars))
	for _, b := range bars {
		out = append(out, map[string]any{
			"date":   b.Date.Format("2006-01-02"),
			"open":   b.Open.InexactFloat64(),
			"high":   b.High.InexactFloat64(),
			"low":    b.Low.InexactFloat64(),
			"close":  b.Close.InexactFloat64(),
			"volume": float64(b.Volume),
		})
	}
	return out
}

func metricsToState(m *dataflows.FinancialMetrics) map[string]any {
	return map[string]any{
		"symbol":              m.Symbol,
		"market_cap":          float64(m.MarketCap),
		"pe_ratio":            m.PERatio,
		"forward_pe":          m.ForwardPE,
		"eps":                 m.EPS,
		"forward_eps":         m.ForwardEPS,
		"price_to_book":       m.PriceToBook,
		"book_value":          m.BookValue,
		"dividend_yield":      m.DividendYield,
		"fifty_two_week_low":  m.FiftyTwoWeekLow.InexactFloat64(),
		"fifty_two_week_high": m.FiftyTwoWeekHigh.InexactFloat64(),
		"current_price":       m.CurrentPrice.InexactFloat64(),
	}
}

func newsToState(articles []*dataflows.NewsArticle) []any {
	out := make([]any, 0, len(articles))
	for _, a := range articles {
		out = append(out, map[string]any{
			"title":        a.Title,
			"content":      a.Content,
			"url":          a.URL,
			"source":       a.Source,
			"published_at": a.PublishedAt.Format(time.RFC3339),
		})
	}
	return out
}
