// Package httpapi exposes an engine over HTTP.
package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/petrijr/taskgraph/pkg/api"
)

const maxDefinitionBytes = 1 << 20

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	Engine api.Engine
	Logger *slog.Logger

	// Submit hands a created run to background execution, typically a
	// worker queue. When nil the run is executed on its own goroutine.
	Submit func(ctx context.Context, runID string) error
}

// NewServer creates a Server. A nil logger selects slog.Default.
func NewServer(engine api.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{Engine: engine, Logger: logger}
}

// Echo builds the router with tracing, recovery and request logging.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler

	e.Use(otelecho.Middleware("taskgraph"))
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.Logger.Debug("http request",
				"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	e.GET("/healthz", s.Health)

	e.POST("/definitions", s.RegisterDefinition)

	e.POST("/runs", s.CreateRun)
	e.GET("/runs", s.ListRuns)
	e.GET("/runs/:id", s.GetRun)
	e.GET("/runs/:id/status", s.GetStatus)
	e.GET("/runs/:id/events", s.ListEvents)
	e.POST("/runs/:id/cancel", s.CancelRun)

	e.GET("/approvals", s.ListApprovals)
	e.POST("/approvals/:id", s.ResolveApproval)
	return e
}

// Health reports liveness.
// (GET /healthz)
func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// RegisterDefinition accepts a YAML or JSON definition body.
// (POST /definitions)
func (s *Server) RegisterDefinition(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxDefinitionBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body: "+err.Error())
	}
	def, err := api.ParseDefinitionYAML(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.Engine.RegisterDefinition(c.Request().Context(), def); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": def.ID, "version": def.Version})
}

type createRunRequest struct {
	DefinitionID string         `json:"definition_id"`
	Version      string         `json:"version"`
	Variables    map[string]any `json:"variables"`
	// Wait runs the workflow within the request and returns the final run.
	Wait bool `json:"wait"`
}

// CreateRun starts a run.
// (POST /runs)
func (s *Server) CreateRun(c echo.Context) error {
	var req createRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if req.DefinitionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "definition_id is required")
	}
	ctx := c.Request().Context()

	run, err := s.Engine.CreateRun(ctx, req.DefinitionID, req.Version, req.Variables)
	if err != nil {
		return err
	}
	if req.Wait {
		final, err := s.Engine.Execute(ctx, run.ID)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, final)
	}

	if s.Submit != nil {
		if err := s.Submit(ctx, run.ID); err != nil {
			return err
		}
		return c.JSON(http.StatusAccepted, run)
	}

	// The run outlives the request.
	go func(id string) {
		if _, err := s.Engine.Execute(context.WithoutCancel(ctx), id); err != nil {
			s.Logger.Warn("background run failed", "run_id", id, "error", err)
		}
	}(run.ID)
	return c.JSON(http.StatusAccepted, run)
}

// ListRuns lists runs, optionally filtered by definition_id and status.
// (GET /runs)
func (s *Server) ListRuns(c echo.Context) error {
	opts := api.RunListOptions{
		DefinitionID: c.QueryParam("definition_id"),
		Status:       api.RunStatus(strings.ToUpper(c.QueryParam("status"))),
	}
	runs, err := s.Engine.ListRuns(c.Request().Context(), opts)
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []*api.WorkflowRun{}
	}
	return c.JSON(http.StatusOK, runs)
}

// GetRun returns the full run record.
// (GET /runs/:id)
func (s *Server) GetRun(c echo.Context) error {
	run, err := s.Engine.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

// GetStatus returns the status report of a run.
// (GET /runs/:id/status)
func (s *Server) GetStatus(c echo.Context) error {
	report, err := s.Engine.GetStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// ListEvents returns the history of a run.
// (GET /runs/:id/events)
func (s *Server) ListEvents(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := s.Engine.GetRun(ctx, id); err != nil {
		return err
	}
	events, err := s.Engine.ListEvents(ctx, id)
	if err != nil {
		return err
	}
	if events == nil {
		events = []api.RunEvent{}
	}
	return c.JSON(http.StatusOK, events)
}

// CancelRun requests cancellation of a run.
// (POST /runs/:id/cancel)
func (s *Server) CancelRun(c echo.Context) error {
	if err := s.Engine.CancelRun(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

// ListApprovals returns pending approval requests.
// (GET /approvals)
func (s *Server) ListApprovals(c echo.Context) error {
	reqs, err := s.Engine.ListPendingApprovals(c.Request().Context())
	if err != nil {
		return err
	}
	if reqs == nil {
		reqs = []*api.ApprovalRequest{}
	}
	return c.JSON(http.StatusOK, reqs)
}

type resolveApprovalRequest struct {
	Approved *bool  `json:"approved"`
	Actor    string `json:"actor"`
	Comment  string `json:"comment"`
}

// ResolveApproval records a decision. Repeating it returns the first
// decision unchanged.
// (POST /approvals/:id)
func (s *Server) ResolveApproval(c echo.Context) error {
	var req resolveApprovalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if req.Approved == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "approved is required")
	}
	out, err := s.Engine.ResolveApproval(c.Request().Context(), c.Param("id"), *req.Approved, req.Actor, req.Comment)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

type errorBody struct {
	Error string `json:"error"`
}

// errorHandler maps engine errors onto status codes.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := statusFor(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(status)
		}
	}
	if status >= http.StatusInternalServerError {
		s.Logger.Error("request failed", "path", c.Path(), "error", err)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, errorBody{Error: msg})
}

func statusFor(err error) int {
	var defErr *api.DefinitionError
	switch {
	case errors.As(err, &defErr), errors.Is(err, api.ErrInvalidDefinition):
		return http.StatusBadRequest
	case errors.Is(err, api.ErrRunNotFound),
		errors.Is(err, api.ErrDefinitionNotFound),
		errors.Is(err, api.ErrApprovalNotFound):
		return http.StatusNotFound
	case errors.Is(err, api.ErrWorkflowDefinitionMismatch),
		errors.Is(err, api.ErrRunTerminal),
		errors.Is(err, api.ErrRunActive),
		errors.Is(err, api.ErrVersionConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
