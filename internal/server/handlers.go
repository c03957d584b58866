package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/quantclan/HedgeCouncil/internal/analysis"
	"github.com/quantclan/HedgeCouncil/internal/registry"
	"github.com/quantclan/HedgeCouncil/internal/workflow"
)

type startAnalysisRequest struct {
	Ticker          string  `json:"ticker" binding:"required"`
	ShowReasoning   bool    `json:"show_reasoning"`
	NumOfNews       int     `json:"num_of_news"`
	InitialCapital  float64 `json:"initial_capital"`
	InitialPosition float64 `json:"initial_position"`
	StartDate       string  `json:"start_date"`
	EndDate         string  `json:"end_date"`
}

func (s *Server) startAnalysis(c *gin.Context) {
	var req startAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	runID, err := s.svc.StartRun(analysis.Params{
		Ticker:          req.Ticker,
		ShowReasoning:   req.ShowReasoning,
		NumOfNews:       req.NumOfNews,
		InitialCapital:  req.InitialCapital,
		InitialPosition: req.InitialPosition,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
	})
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.svc.Registry().Get(runID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	// The run executes in the background; report the lifecycle promise
	// rather than the instant the registry happened to be read at.
	respondOK(c, "analysis started", gin.H{
		"run_id":       runID,
		"ticker":       rec.Ticker,
		"status":       registry.StatusRunning,
		"submitted_at": rec.StartTime,
	})
}

func (s *Server) analysisStatus(c *gin.Context) {
	rec, ok := s.lookupRun(c)
	if !ok {
		return
	}

	data := gin.H{
		"run_id":      rec.RunID,
		"status":      rec.Status,
		"start_time":  rec.StartTime,
		"is_complete": rec.Status.Terminal(),
	}
	if rec.EndTime != nil {
		data["end_time"] = rec.EndTime
	}
	if rec.CurrentStage != "" {
		data["current_agent"] = rec.CurrentStage
	}
	respondOK(c, "run status", data)
}

func (s *Server) analysisResult(c *gin.Context) {
	rec, ok := s.lookupRun(c)
	if !ok {
		return
	}

	switch rec.Status {
	case registry.StatusCompleted:
		outputs := make(map[string]any, len(rec.AgentSteps))
		for name, step := range rec.AgentSteps {
			outputs[name] = step.Output
		}
		respondOK(c, "analysis result", gin.H{
			"run_id":         rec.RunID,
			"ticker":         rec.Ticker,
			"final_decision": rec.FinalDecision,
			"agent_outputs":  outputs,
		})
	case registry.StatusFailed:
		respond(c, http.StatusOK, false, "analysis failed: "+rec.Error, gin.H{
			"run_id": rec.RunID,
			"error":  rec.Error,
		})
	default:
		respondError(c, http.StatusBadRequest, "analysis not ready: run is "+string(rec.Status))
	}
}

func (s *Server) listAgents(c *gin.Context) {
	nodes := s.svc.Graph().Nodes()
	out := make([]gin.H, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, gin.H{
			"name":        n.ID,
			"description": n.Description,
			"depends_on":  n.DependsOn,
			"writes_keys": n.WritesKeys,
		})
	}
	respondOK(c, "agents", gin.H{"agents": out, "count": len(out)})
}

func (s *Server) getAgent(c *gin.Context) {
	node, ok := s.lookupAgent(c)
	if !ok {
		return
	}

	data := gin.H{
		"name":        node.ID,
		"description": node.Description,
		"depends_on":  node.DependsOn,
		"writes_keys": node.WritesKeys,
	}
	if step, runID, found := s.svc.Registry().LatestAgentStep(node.ID); found {
		data["latest_run_id"] = runID
		data["last_started_at"] = step.StartedAt
		data["last_finished_at"] = step.FinishedAt
		if step.Err != "" {
			data["last_error"] = step.Err
		}
	}
	respondOK(c, "agent", data)
}

// agentStepField serves one field of the agent's most recent step.
func (s *Server) agentStepField(field string) gin.HandlerFunc {
	return func(c *gin.Context) {
		node, ok := s.lookupAgent(c)
		if !ok {
			return
		}
		step, runID, found := s.svc.Registry().LatestAgentStep(node.ID)
		if !found {
			respondError(c, http.StatusNotFound, "agent has not run yet: "+node.ID)
			return
		}

		var value any
		switch field {
		case "latest_input":
			value = step.Input
		case "latest_output":
			value = step.Output
		case "reasoning":
			value = step.Reasoning
		case "latest_llm_request":
			value = step.LLMRequest
		case "latest_llm_response":
			value = step.LLMResponse
		}
		respondOK(c, field, gin.H{
			"agent":  node.ID,
			"run_id": runID,
			field:    value,
		})
	}
}

func (s *Server) listRuns(c *gin.Context) {
	limit := queryInt(c, "limit", 20)
	offset := queryInt(c, "offset", 0)

	runs := s.svc.Registry().List(limit, offset)
	respondOK(c, "runs", gin.H{
		"runs":   runs,
		"count":  len(runs),
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) getRun(c *gin.Context) {
	rec, ok := s.lookupRun(c)
	if !ok {
		return
	}
	respondOK(c, "run", rec)
}

func (s *Server) workflowStatus(c *gin.Context) {
	active := s.svc.Registry().ActiveRuns()

	busy := make(map[string]string, len(active))
	currentRuns := make([]gin.H, 0, len(active))
	for _, rec := range active {
		currentRuns = append(currentRuns, gin.H{
			"run_id":        rec.RunID,
			"ticker":        rec.Ticker,
			"status":        rec.Status,
			"current_agent": rec.CurrentStage,
		})
		if rec.CurrentStage != "" {
			busy[rec.CurrentStage] = rec.RunID
		}
	}

	agentStates := make(map[string]any, s.svc.Graph().Len())
	for _, n := range s.svc.Graph().Nodes() {
		stateEntry := gin.H{"state": "idle"}
		if runID, ok := busy[n.ID]; ok {
			stateEntry = gin.H{"state": "running", "run_id": runID}
		}
		agentStates[n.ID] = stateEntry
	}

	respondOK(c, "workflow", gin.H{
		"current_runs": currentRuns,
		"agent_states": agentStates,
	})
}

func (s *Server) lookupRun(c *gin.Context) (registry.RunRecord, bool) {
	rec, err := s.svc.Registry().Get(c.Param("run_id"))
	if err != nil {
		if errors.Is(err, registry.ErrRunNotFound) {
			respondError(c, http.StatusNotFound, err.Error())
		} else {
			respondError(c, http.StatusInternalServerError, err.Error())
		}
		return registry.RunRecord{}, false
	}
	return rec, true
}

func (s *Server) lookupAgent(c *gin.Context) (*workflow.Node, bool) {
	name := c.Param("name")
	n, found := s.svc.Graph().Node(name)
	if !found {
		respondError(c, http.StatusNotFound, "unknown agent: "+name)
		return nil, false
	}
	return n, true
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
