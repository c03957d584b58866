// Package analysis glues the pieces into the run lifecycle: create a
// registry entry, execute the council graph, distill the final state
// into a decision, and close the run out.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantclan/HedgeCouncil/consts"
	"github.com/quantclan/HedgeCouncil/internal/agents"
	"github.com/quantclan/HedgeCouncil/internal/config"
	"github.com/quantclan/HedgeCouncil/internal/dataflows"
	"github.com/quantclan/HedgeCouncil/internal/instrument"
	"github.com/quantclan/HedgeCouncil/internal/processing"
	"github.com/quantclan/HedgeCouncil/internal/registry"
	"github.com/quantclan/HedgeCouncil/internal/state"
	"github.com/quantclan/HedgeCouncil/internal/workflow"
)

// Params describes one analysis request.
type Params struct {
	Ticker          string  `json:"ticker"`
	ShowReasoning   bool    `json:"show_reasoning"`
	ShowSummary     bool    `json:"show_summary"`
	NumOfNews       int     `json:"num_of_news"`
	InitialCapital  float64 `json:"initial_capital"`
	InitialPosition float64 `json:"initial_position"`
	StartDate       string  `json:"start_date,omitempty"`
	EndDate         string  `json:"end_date,omitempty"`
}

// Service runs analyses against a shared registry. Safe for concurrent
// use; each run gets its own state and context.
type Service struct {
	cfgMu  sync.RWMutex
	cfg    config.Config
	reg    *registry.Registry
	graph  *workflow.Graph
	engine *workflow.Engine
	proc   *processing.SignalProcessor
	log    *slog.Logger
}

func NewService(cfg config.Config, reg *registry.Registry, deps agents.Deps, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Log == nil {
		deps.Log = logger
	}

	graph, err := agents.Build(deps)
	if err != nil {
		return nil, fmt.Errorf("analysis: build graph: %w", err)
	}

	return &Service{
		cfg:   cfg,
		reg:   reg,
		graph: graph,
		engine: workflow.NewEngine(reg, logger,
			workflow.WithWrapper(instrument.New(reg, logger))),
		proc: processing.NewSignalProcessor(),
		log:  logger,
	}, nil
}

func (s *Service) Registry() *registry.Registry { return s.reg }

func (s *Service) Graph() *workflow.Graph { return s.graph }

// ApplyConfig swaps the config used for new runs, so a hot-reloaded
// file takes effect without a restart. Clients built at startup keep
// their endpoints; only per-run defaults follow the new value.
func (s *Service) ApplyConfig(cfg config.Config) {
	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()
}

func (s *Service) currentConfig() config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// StartRun creates the run and executes it in the background. The
// returned id is immediately visible to registry reads.
func (s *Service) StartRun(params Params) (string, error) {
	runID, initial, err := s.prepare(params)
	if err != nil {
		return "", err
	}

	go func() {
		// The run outlives the request that started it.
		if _, err := s.execute(context.Background(), runID, initial); err != nil {
			s.log.Error("analysis run failed", "run_id", runID, "err", err)
		}
	}()
	return runID, nil
}

// Analyze executes a run synchronously, for the CLI.
func (s *Service) Analyze(ctx context.Context, params Params) (*processing.Decision, registry.RunRecord, error) {
	runID, initial, err := s.prepare(params)
	if err != nil {
		return nil, registry.RunRecord{}, err
	}

	decision, runErr := s.execute(ctx, runID, initial)
	rec, getErr := s.reg.Get(runID)
	if getErr != nil {
		return nil, registry.RunRecord{}, getErr
	}
	return decision, rec, runErr
}

func (s *Service) prepare(params Params) (string, *state.AnalysisState, error) {
	if err := dataflows.ValidateSymbol(params.Ticker); err != nil {
		return "", nil, err
	}
	params.Ticker = dataflows.NormalizeSymbol(params.Ticker)
	if params.NumOfNews <= 0 {
		params.NumOfNews = s.currentConfig().NumOfNews
	}
	if params.InitialCapital <= 0 {
		params.InitialCapital = 100000
	}

	runID := s.reg.Create(params.Ticker, map[string]any{
		"ticker":           params.Ticker,
		"show_reasoning":   params.ShowReasoning,
		"num_of_news":      params.NumOfNews,
		"initial_capital":  params.InitialCapital,
		"initial_position": params.InitialPosition,
	})

	initial := state.New()
	initial.Data[consts.KeyTicker] = params.Ticker
	initial.Data[consts.KeyPortfolio] = map[string]any{
		"cash":  params.InitialCapital,
		"stock": params.InitialPosition,
	}
	initial.Data[consts.KeyNumOfNews] = params.NumOfNews
	if params.StartDate != "" {
		initial.Data[consts.KeyStartDate] = params.StartDate
	}
	if params.EndDate != "" {
		initial.Data[consts.KeyEndDate] = params.EndDate
	}
	initial.Metadata[consts.MetaRunID] = runID
	initial.Metadata[consts.MetaShowReasoning] = params.ShowReasoning
	initial.Metadata[consts.MetaShowSummary] = params.ShowSummary

	return runID, initial, nil
}

// execute drives the engine and closes the run out. The engine marks
// failures itself; success is terminal here, after signal extraction.
func (s *Service) execute(ctx context.Context, runID string, initial *state.AnalysisState) (*processing.Decision, error) {
	started := time.Now()
	final, err := s.engine.Run(ctx, s.graph, runID, initial)
	if err != nil {
		return nil, err
	}

	decision := s.proc.Extract(final)
	if err := s.reg.Complete(runID, decisionToMap(decision)); err != nil {
		return decision, err
	}
	s.log.Info("analysis run completed",
		"run_id", runID, "action", decision.Action, "elapsed", time.Since(started))
	return decision, nil
}

func decisionToMap(d *processing.Decision) map[string]any {
	out := map[string]any{
		"action":     d.Action,
		"quantity":   d.Quantity,
		"confidence": d.Confidence,
		"reasoning":  d.Reasoning,
	}
	if d.HasTarget {
		out["price_target"] = d.PriceTarget.String()
	}
	return out
}
