// Package agents implements the analysis council: a market data
// collector plus ten analysis agents, each reading a frozen state
// snapshot and returning a delta under its declared data keys. Build
// wires the eleven nodes into the validated workflow graph.
package agents

import (
	"log/slog"

	"github.com/quantclan/HedgeCouncil/consts"
	"github.com/quantclan/HedgeCouncil/internal/dataflows"
	"github.com/quantclan/HedgeCouncil/internal/llm"
	"github.com/quantclan/HedgeCouncil/internal/workflow"
)

// Deps carries the capabilities agents are allowed to touch. Everything
// else they need arrives in the state snapshot.
type Deps struct {
	LLM  llm.Completer
	Data dataflows.Provider
	Log  *slog.Logger
}

// Build assembles the full council graph:
//
//	collect_market_data
//	  → technical, fundamental, sentiment, valuation   (parallel)
//	  → research_bull, research_bear                   (parallel)
//	  → debate_integration → risk_management
//	  → macro_analysis → portfolio_decision
func Build(deps Deps) (*workflow.Graph, error) {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}

	analysisDeps := []string{consts.MarketDataCollector}
	researchDeps := []string{
		consts.TechnicalAnalysis,
		consts.FundamentalAnalysis,
		consts.SentimentAnalysis,
		consts.ValuationAnalysis,
	}

	return workflow.NewGraph(
		&workflow.Node{
			ID:          consts.MarketDataCollector,
			Description: "Fetches price history, fundamentals and recent news for the ticker",
			WritesKeys: []string{
				consts.KeyMarketData, consts.KeyPrices, consts.KeyFinancialMetrics,
				consts.KeyNews, consts.KeyStartDate, consts.KeyEndDate,
			},
			Run: collectMarketData(deps),
		},
		&workflow.Node{
			ID:          consts.TechnicalAnalysis,
			Description: "Trend, momentum and volatility signals from price history",
			DependsOn:   analysisDeps,
			WritesKeys:  []string{consts.KeyTechnicalAnalysis},
			Run:         technicalAnalysis(deps),
		},
		&workflow.Node{
			ID:          consts.FundamentalAnalysis,
			Description: "Ratio analysis over the fundamentals snapshot",
			DependsOn:   analysisDeps,
			WritesKeys:  []string{consts.KeyFundamentals},
			Run:         fundamentalAnalysis(deps),
		},
		&workflow.Node{
			ID:          consts.SentimentAnalysis,
			Description: "News sentiment scoring",
			DependsOn:   analysisDeps,
			WritesKeys:  []string{consts.KeySentiment},
			Run:         sentimentAnalysis(deps),
		},
		&workflow.Node{
			ID:          consts.ValuationAnalysis,
			Description: "Intrinsic value gap versus the market price",
			DependsOn:   analysisDeps,
			WritesKeys:  []string{consts.KeyValuation},
			Run:         valuationAnalysis(deps),
		},
		&workflow.Node{
			ID:          consts.ResearchBull,
			Description: "Builds the strongest bullish case from the four analyses",
			DependsOn:   researchDeps,
			WritesKeys:  []string{consts.KeyBullResearch},
			Run:         researcher(deps, "bullish", consts.KeyBullResearch),
		},
		&workflow.Node{
			ID:          consts.ResearchBear,
			Description: "Builds the strongest bearish case from the four analyses",
			DependsOn:   researchDeps,
			WritesKeys:  []string{consts.KeyBearResearch},
			Run:         researcher(deps, "bearish", consts.KeyBearResearch),
		},
		&workflow.Node{
			ID:          consts.DebateIntegration,
			Description: "Adjudicates the bull and bear theses into one signal",
			DependsOn:   []string{consts.ResearchBull, consts.ResearchBear},
			WritesKeys:  []string{consts.KeyDebateAnalysis},
			Run:         debateIntegration(deps),
		},
		&workflow.Node{
			ID:          consts.RiskManagement,
			Description: "Position sizing and risk scoring against the portfolio",
			DependsOn:   []string{consts.DebateIntegration},
			WritesKeys:  []string{consts.KeyRiskAnalysis},
			Run:         riskManagement(deps),
		},
		&workflow.Node{
			ID:          consts.MacroAnalysis,
			Description: "Macro environment read and its impact on the stock",
			DependsOn:   []string{consts.RiskManagement},
			WritesKeys:  []string{consts.KeyMacroAnalysis},
			Run:         macroAnalysis(deps),
		},
		&workflow.Node{
			ID:          consts.PortfolioDecision,
			Description: "Final trading decision for the run",
			DependsOn:   []string{consts.MacroAnalysis},
			WritesKeys:  []string{consts.KeyFinalDecision},
			Run:         portfolioDecision(deps),
		},
	)
}
