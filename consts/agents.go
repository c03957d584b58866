package consts

// Agent node identifiers. These are the node ids of the workflow graph
// and the keys under which each agent's results are tracked.
const (
	// Source node
	MarketDataCollector = "collect_market_data"

	// Parallel analysis group
	TechnicalAnalysis   = "technical_analysis"
	FundamentalAnalysis = "fundamental_analysis"
	SentimentAnalysis   = "sentiment_analysis"
	ValuationAnalysis   = "valuation_analysis"

	// Parallel research group
	ResearchBull = "research_bull"
	ResearchBear = "research_bear"

	// Sequential tail
	DebateIntegration = "debate_integration"
	RiskManagement    = "risk_management"
	MacroAnalysis     = "macro_analysis"
	PortfolioDecision = "portfolio_decision"
)

// Top-level keys of AnalysisState.Data.
const (
	KeyTicker            = "ticker"
	KeyPortfolio         = "portfolio"
	KeyStartDate         = "start_date"
	KeyEndDate           = "end_date"
	KeyNumOfNews         = "num_of_news"
	KeyMarketData        = "market_data"
	KeyPrices            = "prices"
	KeyFinancialMetrics  = "financial_metrics"
	KeyNews              = "news"
	KeyTechnicalAnalysis = "technical_analysis"
	KeyFundamentals      = "fundamental_analysis"
	KeySentiment         = "sentiment_analysis"
	KeyValuation         = "valuation_analysis"
	KeyBullResearch      = "bull_research"
	KeyBearResearch      = "bear_research"
	KeyDebateAnalysis    = "debate_analysis"
	KeyRiskAnalysis      = "risk_analysis"
	KeyMacroAnalysis     = "macro_analysis"
	KeyFinalDecision     = "final_decision"
)

// Keys of AnalysisState.Metadata.
const (
	MetaShowReasoning = "show_reasoning"
	MetaShowSummary   = "show_summary"
	MetaRunID         = "run_id"
)
