// Package server exposes the HTTP API over the analysis service and
// its run registry.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/quantclan/HedgeCouncil/internal/analysis"
)

// Server wires the API routes and owns the HTTP lifecycle.
type Server struct {
	svc    *analysis.Service
	log    *slog.Logger
	router *gin.Engine
	addr   string
}

func New(addr string, svc *analysis.Service, logger *slog.Logger, debug bool) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		svc:    svc,
		log:    logger,
		router: gin.New(),
		addr:   addr,
	}
	s.router.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.router.Group("/api")

	an := api.Group("/analysis")
	an.POST("/start", s.startAnalysis)
	an.GET("/:run_id/status", s.analysisStatus)
	an.GET("/:run_id/result", s.analysisResult)

	ag := api.Group("/agents")
	ag.GET("/", s.listAgents)
	ag.GET("/:name", s.getAgent)
	ag.GET("/:name/latest_input", s.agentStepField("latest_input"))
	ag.GET("/:name/latest_output", s.agentStepField("latest_output"))
	ag.GET("/:name/reasoning", s.agentStepField("reasoning"))
	ag.GET("/:name/latest_llm_request", s.agentStepField("latest_llm_request"))
	ag.GET("/:name/latest_llm_response", s.agentStepField("latest_llm_response"))

	runs := api.Group("/runs")
	runs.GET("/", s.listRuns)
	runs.GET("/:run_id", s.getRun)

	api.GET("/workflow/", s.workflowStatus)
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then drains with a short grace
// period.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("http server listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// envelope is the uniform response shape of the API.
type envelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
}

func respond(c *gin.Context, status int, success bool, message string, data any) {
	c.JSON(status, envelope{
		Success:   success,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func respondOK(c *gin.Context, message string, data any) {
	respond(c, http.StatusOK, true, message, data)
}

func respondError(c *gin.Context, status int, message string) {
	respond(c, status, false, message, nil)
}
