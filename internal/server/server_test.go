package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantclan/HedgeCouncil/consts"
	"github.com/quantclan/HedgeCouncil/internal/agents"
	"github.com/quantclan/HedgeCouncil/internal/analysis"
	"github.com/quantclan/HedgeCouncil/internal/capability"
	"github.com/quantclan/HedgeCouncil/internal/config"
	"github.com/quantclan/HedgeCouncil/internal/dataflows"
	"github.com/quantclan/HedgeCouncil/internal/instrument"
	"github.com/quantclan/HedgeCouncil/internal/registry"
)

type cannedLLM struct{}

func (cannedLLM) Complete(ctx context.Context, messages []*schema.Message) (string, error) {
	prompt := strings.ToLower(messages[len(messages)-1].Content)
	out := "Signal: bullish. Confidence: 0.6."
	if strings.Contains(prompt, "final trading decision") {
		out = "Action: BUY. Confidence: 0.7. The council supports entry."
	}
	instrument.RecordLLM(ctx, prompt, out)
	return out, nil
}

type stubProvider struct {
	pricesErr error
}

func (p stubProvider) GetPrices(_ context.Context, symbol string, start, _ time.Time) ([]*dataflows.PriceBar, error) {
	if p.pricesErr != nil {
		return nil, p.pricesErr
	}
	bars := make([]*dataflows.PriceBar, 0, 40)
	for i := 0; i < 40; i++ {
		bars = append(bars, &dataflows.PriceBar{
			Symbol: symbol,
			Date:   start.AddDate(0, 0, i),
			Close:  decimal.NewFromFloat(100 + float64(i)),
			Volume: 500_000,
		})
	}
	return bars, nil
}

func (stubProvider) GetQuote(_ context.Context, symbol string) (*dataflows.PriceBar, error) {
	return &dataflows.PriceBar{
		Symbol: symbol,
		Close:  decimal.NewFromFloat(139.5),
		Volume: 600_000,
	}, nil
}

func (stubProvider) GetMetrics(_ context.Context, symbol string) (*dataflows.FinancialMetrics, error) {
	return &dataflows.FinancialMetrics{
		Symbol: symbol, PERatio: 18, EPS: 10, PriceToBook: 2.5,
		CurrentPrice: decimal.NewFromFloat(139),
	}, nil
}

func (stubProvider) GetNews(_ context.Context, symbol string, _ int) ([]*dataflows.NewsArticle, error) {
	return []*dataflows.NewsArticle{{Title: symbol + " rallies", Source: "Reuters"}}, nil
}

func newTestServer(t *testing.T, provider dataflows.Provider) *Server {
	t.Helper()
	svc, err := analysis.NewService(*config.DefaultConfigWithRoot(t.TempDir()), registry.New(),
		agents.Deps{LLM: cannedLLM{}, Data: provider}, nil)
	require.NoError(t, err)
	return New(":0", svc, nil, false)
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w, env
}

func startAndWait(t *testing.T, s *Server, body string) string {
	t.Helper()
	w, env := do(t, s, http.MethodPost, "/api/analysis/start", body)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, env.Success)

	data := env.Data.(map[string]any)
	runID := data["run_id"].(string)
	require.NotEmpty(t, runID)
	require.Equal(t, "running", data["status"], "start promises the run lifecycle")

	require.Eventually(t, func() bool {
		_, env := do(t, s, http.MethodGet, "/api/analysis/"+runID+"/status", "")
		status, _ := env.Data.(map[string]any)
		complete, _ := status["is_complete"].(bool)
		return complete
	}, 5*time.Second, 10*time.Millisecond)
	return runID
}

func TestAnalysisEndToEnd(t *testing.T) {
	s := newTestServer(t, stubProvider{})
	runID := startAndWait(t, s, `{"ticker":"AAPL","show_reasoning":true,"num_of_news":3}`)

	w, env := do(t, s, http.MethodGet, "/api/analysis/"+runID+"/result", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, env.Success)

	data := env.Data.(map[string]any)
	decision := data["final_decision"].(map[string]any)
	assert.Equal(t, "BUY", decision["action"])

	outputs := data["agent_outputs"].(map[string]any)
	assert.Contains(t, outputs, consts.PortfolioDecision)
	assert.Contains(t, outputs, consts.SentimentAnalysis)
}

func TestAnalysisFailureIsReported(t *testing.T) {
	s := newTestServer(t, stubProvider{
		pricesErr: capability.Permanent("prices", errors.New("unknown ticker")),
	})
	runID := startAndWait(t, s, `{"ticker":"ZZZZ"}`)

	w, env := do(t, s, http.MethodGet, "/api/analysis/"+runID+"/result", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Message, "unknown ticker")
}

func TestResultNotReadyIs400(t *testing.T) {
	s := newTestServer(t, stubProvider{})
	runID := s.svc.Registry().Create("AAPL", nil)

	w, env := do(t, s, http.MethodGet, "/api/analysis/"+runID+"/result", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Message, "not ready")
}

func TestUnknownRunIs404Envelope(t *testing.T) {
	s := newTestServer(t, stubProvider{})

	w, env := do(t, s, http.MethodGet, "/api/analysis/no-such-run/status", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Timestamp)
}

func TestStartRejectsMissingTicker(t *testing.T) {
	s := newTestServer(t, stubProvider{})
	w, env := do(t, s, http.MethodPost, "/api/analysis/start", `{"show_reasoning":true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, env.Success)
}

func TestAgentEndpoints(t *testing.T) {
	s := newTestServer(t, stubProvider{})

	w, env := do(t, s, http.MethodGet, "/api/agents/", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := env.Data.(map[string]any)
	assert.EqualValues(t, 11, data["count"])

	w, _ = do(t, s, http.MethodGet, "/api/agents/not_an_agent", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Before any run, step sub-resources are 404.
	w, _ = do(t, s, http.MethodGet, "/api/agents/"+consts.SentimentAnalysis+"/reasoning", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	startAndWait(t, s, `{"ticker":"AAPL"}`)

	w, env = do(t, s, http.MethodGet, "/api/agents/"+consts.SentimentAnalysis+"/reasoning", "")
	require.Equal(t, http.StatusOK, w.Code)
	step := env.Data.(map[string]any)
	assert.NotEmpty(t, step["reasoning"])

	w, env = do(t, s, http.MethodGet, "/api/agents/"+consts.SentimentAnalysis+"/latest_llm_response", "")
	require.Equal(t, http.StatusOK, w.Code)
	step = env.Data.(map[string]any)
	assert.Contains(t, step["latest_llm_response"], "bullish")
}

func TestRunsListNewestFirst(t *testing.T) {
	s := newTestServer(t, stubProvider{})
	first := startAndWait(t, s, `{"ticker":"AAPL"}`)
	second := startAndWait(t, s, `{"ticker":"MSFT"}`)

	w, env := do(t, s, http.MethodGet, "/api/runs/?limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := env.Data.(map[string]any)
	runs := data["runs"].([]any)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].(map[string]any)["run_id"])
	assert.Equal(t, first, runs[1].(map[string]any)["run_id"])

	w, env = do(t, s, http.MethodGet, "/api/runs/"+first, "")
	require.Equal(t, http.StatusOK, w.Code)
	rec := env.Data.(map[string]any)
	assert.Equal(t, "AAPL", rec["ticker"])
	assert.Contains(t, rec["agent_steps"], consts.PortfolioDecision)
}

func TestWorkflowStatusShape(t *testing.T) {
	s := newTestServer(t, stubProvider{})
	startAndWait(t, s, `{"ticker":"AAPL"}`)

	w, env := do(t, s, http.MethodGet, "/api/workflow/", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := env.Data.(map[string]any)
	states := data["agent_states"].(map[string]any)
	assert.Len(t, states, 11)
	assert.Empty(t, data["current_runs"], "finished runs are not active")
}
