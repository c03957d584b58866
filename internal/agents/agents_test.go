package agents

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantclan/HedgeCouncil/consts"
	"github.com/quantclan/HedgeCouncil/internal/capability"
	"github.com/quantclan/HedgeCouncil/internal/dataflows"
	"github.com/quantclan/HedgeCouncil/internal/registry"
	"github.com/quantclan/HedgeCouncil/internal/state"
	"github.com/quantclan/HedgeCouncil/internal/workflow"
)

// stubLLM answers by keyword so every council prompt gets a plausible
// reply without a network.
type stubLLM struct{}

func (stubLLM) Complete(_ context.Context, messages []*schema.Message) (string, error) {
	prompt := strings.ToLower(messages[len(messages)-1].Content)
	switch {
	case strings.Contains(prompt, "bullish case"):
		return "- Earnings momentum is strong\n- Valuation gap favors upside\nConfidence: 0.8", nil
	case strings.Contains(prompt, "bearish case"):
		return "- Multiple compression risk\n- Crowded positioning can reverse quickly\nConfidence: 0.6", nil
	case strings.Contains(prompt, "researchers disagree"):
		return "The bull case is stronger. Signal: bullish. Confidence: 0.75.", nil
	case strings.Contains(prompt, "macro environment"):
		return "The macro environment is favorable and the impact on the stock is positive.", nil
	case strings.Contains(prompt, "final trading decision"):
		return "Action: BUY. Confidence: 0.7. Price target: 210.50. The debate and risk limits support a position.", nil
	case strings.Contains(prompt, "sentiment"):
		return "Score: 0.4. Signal: bullish. Confidence: 0.7. Coverage is broadly positive.", nil
	}
	return "Signal: neutral. Confidence: 0.5.", nil
}

// stubProvider returns a deterministic uptrend so the technical agent
// lands on a bullish read.
type stubProvider struct{}

func (stubProvider) GetPrices(_ context.Context, symbol string, start, end time.Time) ([]*dataflows.PriceBar, error) {
	bars := make([]*dataflows.PriceBar, 0, 40)
	price := 150.0
	for i := 0; i < 40; i++ {
		price += 1.0
		bars = append(bars, &dataflows.PriceBar{
			Symbol: symbol,
			Date:   start.AddDate(0, 0, i),
			Open:   decimal.NewFromFloat(price - 0.5),
			High:   decimal.NewFromFloat(price + 1),
			Low:    decimal.NewFromFloat(price - 1),
			Close:  decimal.NewFromFloat(price),
			Volume: 1_000_000,
		})
	}
	return bars, nil
}

func (stubProvider) GetQuote(_ context.Context, symbol string) (*dataflows.PriceBar, error) {
	return &dataflows.PriceBar{
		Symbol: symbol,
		Date:   time.Now(),
		Close:  decimal.NewFromFloat(191.25),
		Volume: 55_000_000,
	}, nil
}

func (stubProvider) GetMetrics(_ context.Context, symbol string) (*dataflows.FinancialMetrics, error) {
	return &dataflows.FinancialMetrics{
		Symbol:        symbol,
		MarketCap:     3_000_000_000_000,
		PERatio:       22,
		EPS:           13.2,
		PriceToBook:   3.1,
		DividendYield: 0.015,
		CurrentPrice:  decimal.NewFromFloat(190),
	}, nil
}

func (stubProvider) GetNews(_ context.Context, symbol string, maxResults int) ([]*dataflows.NewsArticle, error) {
	return []*dataflows.NewsArticle{
		{Title: symbol + " beats quarterly estimates", Source: "Reuters"},
		{Title: symbol + " raises guidance", Source: "Bloomberg"},
	}, nil
}

func initialState(ticker string) *state.AnalysisState {
	s := state.New()
	s.Data[consts.KeyTicker] = ticker
	s.Data[consts.KeyPortfolio] = map[string]any{"cash": 100000.0, "stock": 0.0}
	s.Data[consts.KeyNumOfNews] = 5
	return s
}

func TestBuildProducesValidCouncilGraph(t *testing.T) {
	g, err := Build(Deps{LLM: stubLLM{}, Data: stubProvider{}})
	require.NoError(t, err)

	assert.Equal(t, 11, g.Len())
	assert.Equal(t, consts.MarketDataCollector, g.Source())
	assert.Equal(t, consts.PortfolioDecision, g.Sink())

	ready := g.NextReady(map[string]bool{consts.MarketDataCollector: true})
	assert.ElementsMatch(t, []string{
		consts.TechnicalAnalysis, consts.FundamentalAnalysis,
		consts.SentimentAnalysis, consts.ValuationAnalysis,
	}, ready)
}

func TestCouncilEndToEnd(t *testing.T) {
	g, err := Build(Deps{LLM: stubLLM{}, Data: stubProvider{}})
	require.NoError(t, err)

	reg := registry.New()
	runID := reg.Create("AAPL", nil)
	final, err := workflow.NewEngine(reg, nil).Run(context.Background(), g, runID, initialState("AAPL"))
	require.NoError(t, err)

	for _, key := range []string{
		consts.KeyMarketData, consts.KeyPrices, consts.KeyFinancialMetrics, consts.KeyNews,
		consts.KeyTechnicalAnalysis, consts.KeyFundamentals, consts.KeySentiment, consts.KeyValuation,
		consts.KeyBullResearch, consts.KeyBearResearch,
		consts.KeyDebateAnalysis, consts.KeyRiskAnalysis, consts.KeyMacroAnalysis, consts.KeyFinalDecision,
	} {
		assert.Contains(t, final.Data, key)
	}

	market, ok := final.Data[consts.KeyMarketData].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 191.25, market["current_price"].(float64), 0.001, "current price comes from the live quote")

	decision, ok := final.Data[consts.KeyFinalDecision].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "BUY", decision["action"])
	assert.Greater(t, decision["quantity"].(float64), 0.0)

	require.NotEmpty(t, final.Messages)
	last := final.Messages[len(final.Messages)-1]
	assert.Equal(t, schema.Assistant, last.Role)
	assert.Contains(t, last.Content, "BUY")
}

func TestDebateFailsPermanentlyWithoutBothSides(t *testing.T) {
	fn := debateIntegration(Deps{LLM: stubLLM{}})

	s := initialState("AAPL")
	s.Data[consts.KeyBullResearch] = map[string]any{"confidence": 0.8, "analysis": "strong"}
	// bear_research deliberately absent

	_, err := fn(context.Background(), s)
	require.Error(t, err)
	assert.False(t, capability.IsTransient(err))
}

func TestRiskManagementCapsVolatileBuys(t *testing.T) {
	fn := riskManagement(Deps{})

	s := initialState("AAPL")
	s.Data[consts.KeyDebateAnalysis] = map[string]any{"signal": "bullish"}
	s.Data[consts.KeyTechnicalAnalysis] = map[string]any{"volatility": 0.9}

	delta, err := fn(context.Background(), s)
	require.NoError(t, err)

	risk := delta.Data[consts.KeyRiskAnalysis].(map[string]any)
	assert.Equal(t, 10.0, risk["risk_score"])
	assert.Equal(t, "hold", risk["trading_action"], "max risk blocks the buy")
	assert.InDelta(t, 7000.0, risk["max_position_size"], 1.0, "7% of 100k cash at max risk")
}

func TestTechnicalAnalysisNeedsHistory(t *testing.T) {
	fn := technicalAnalysis(Deps{})
	s := initialState("AAPL")
	s.Data[consts.KeyPrices] = []any{}

	_, err := fn(context.Background(), s)
	require.Error(t, err)
	assert.False(t, capability.IsTransient(err))
}

func TestParseHelpers(t *testing.T) {
	assert.Equal(t, "bullish", parseSignal("I am strongly BULLISH here"))
	assert.Equal(t, "bearish", parseSignal("recommendation: SELL"))
	assert.Equal(t, "neutral", parseSignal("no clear direction"))

	assert.InDelta(t, 0.75, parseConfidence("Confidence: 0.75"), 0.001)
	assert.InDelta(t, 0.8, parseConfidence("confidence of 80"), 0.001)
	assert.InDelta(t, 0.5, parseConfidence("no number here"), 0.001)

	points := thesisPoints("- first\n- second\nnot a bullet")
	assert.Len(t, points, 2)
}
