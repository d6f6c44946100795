// Package server exposes the provisioning workflow over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/openclaw/partnerforge/internal/config"
	"github.com/openclaw/partnerforge/internal/locate"
	"github.com/openclaw/partnerforge/internal/workflow"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WorkflowRunner is the part of the orchestrator the HTTP layer needs.
type WorkflowRunner interface {
	Run(ctx context.Context, req workflow.Request) (*workflow.Result, error)
}

// Server serves the workflow API. Each accepted request drives a full
// browser-backed run, so admission is rate limited well below typical API
// defaults.
type Server struct {
	cfg     config.ServerConfig
	runner  WorkflowRunner
	log     *zap.Logger
	limiter *rate.Limiter
	httpSrv *http.Server
}

func New(cfg config.ServerConfig, runner WorkflowRunner, logger *zap.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		runner:  runner,
		log:     logger.Named("server"),
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), 1),
	}
	s.httpSrv = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.Handler(),
	}
	return s
}

// Handler builds the route tree; exposed separately for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))

	r.Get("/healthz", s.handleHealth)
	r.Post("/v1/workflows", s.handleRunWorkflow)
	return r
}

// Start blocks serving requests until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening.", zap.String("addr", s.cfg.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		s.writeError(w, http.StatusTooManyRequests, "rate_limited", "too many provisioning requests")
		return
	}

	var req workflow.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed_request", "request body is not valid JSON")
		return
	}

	res, err := s.runner.Run(r.Context(), req)
	if err != nil {
		status, kind := classifyError(err)
		s.log.Warn("Workflow run failed.",
			zap.String("brand", req.BrandName),
			zap.String("kind", kind),
			zap.Error(err))
		s.writeError(w, status, kind, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// classifyError maps the workflow error taxonomy onto HTTP statuses. The
// console is effectively an upstream dependency, so its misbehavior maps to
// gateway statuses rather than generic 500s.
func classifyError(err error) (int, string) {
	var (
		verr  *workflow.ValidationError
		cerr  *workflow.ConfigurationError
		nerr  *workflow.NavigationTimeoutError
		rerr  *workflow.ReauthBlockedError
		merr  *workflow.VerificationMismatchError
		uerr  *workflow.AmbiguousUIStateError
		nferr *locate.NotFoundError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "invalid_request"
	case errors.As(err, &rerr):
		return http.StatusConflict, "reauth_required"
	case errors.As(err, &nerr):
		return http.StatusGatewayTimeout, "console_timeout"
	case errors.As(err, &nferr):
		return http.StatusBadGateway, "console_element_not_found"
	case errors.As(err, &merr):
		return http.StatusBadGateway, "console_mismatch"
	case errors.As(err, &uerr):
		return http.StatusBadGateway, "console_ambiguous"
	case errors.As(err, &cerr):
		return http.StatusInternalServerError, "configuration"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, "cancelled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

type errorResponse struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, kind, msg string) {
	s.writeJSON(w, status, errorResponse{Kind: kind, Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("Failed to write response", zap.Error(err))
	}
}
