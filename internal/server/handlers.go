package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/refetch/internal/batch"
	"github.com/mohammad-safakhou/refetch/internal/history"
	"github.com/mohammad-safakhou/refetch/internal/orchestrate"
	"github.com/mohammad-safakhou/refetch/internal/store"
)

// Runner abstracts the orchestrator for handlers and the scheduler.
type Runner interface {
	Run(ctx context.Context, req orchestrate.Request) (orchestrate.RunResult, error)
}

// AttemptReader is the read side of the attempt log handlers need.
type AttemptReader interface {
	GetAttempt(ctx context.Context, id string) (store.Attempt, error)
	ListAttemptsByRun(ctx context.Context, runID string) ([]store.Attempt, error)
}

// AdviceStore is the advice slice of the store.
type AdviceStore interface {
	AddAdvice(ctx context.Context, domain, text string) (int64, error)
	ListAdvice(ctx context.Context, domain string) ([]store.Advice, error)
	ListAllAdvice(ctx context.Context) ([]store.Advice, error)
}

type RunsHandler struct {
	Runner Runner
	Store  AttemptReader
}

func (h *RunsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(authMiddleware(secret))
	g.POST("", h.startRun)
	g.GET("/:id/attempts", h.listAttempts)
}

func (h *RunsHandler) startRun(c echo.Context) error {
	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Target == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "target is required")
	}
	oreq := orchestrate.Request{
		Target:      req.Target,
		Intent:      req.Intent,
		MaxAttempts: req.MaxAttempts,
	}
	if req.Directive != nil {
		oreq.Directive = *req.Directive
	}
	res, err := h.Runner.Run(c.Request().Context(), oreq)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *RunsHandler) listAttempts(c echo.Context) error {
	attempts, err := h.Store.ListAttemptsByRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, attempts)
}

type AttemptsHandler struct {
	Store AttemptReader
}

func (h *AttemptsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(authMiddleware(secret))
	g.GET("/:id", h.getAttempt)
}

func (h *AttemptsHandler) getAttempt(c echo.Context) error {
	att, err := h.Store.GetAttempt(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "attempt not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, att)
}

type HistoryHandler struct {
	Service *history.Service
}

func (h *HistoryHandler) Register(g *echo.Group, secret []byte) {
	g.Use(authMiddleware(secret))
	g.GET("", h.lookup)
}

func (h *HistoryHandler) lookup(c echo.Context) error {
	q := c.QueryParam("q")
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be an integer")
		}
		limit = n
	}
	res, err := h.Service.Lookup(c.Request().Context(), q, limit)
	if err != nil {
		var se *store.StorageError
		if errors.As(err, &se) {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

type AdviceHandler struct {
	Store AdviceStore
}

func (h *AdviceHandler) Register(g *echo.Group, secret []byte) {
	g.Use(authMiddleware(secret))
	g.POST("", h.add)
	g.GET("", h.list)
}

func (h *AdviceHandler) add(c echo.Context) error {
	var req AdviceAddRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Domain == "" || req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "domain and text are required")
	}
	id, err := h.Store.AddAdvice(c.Request().Context(), req.Domain, req.Text)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]int64{"id": id})
}

func (h *AdviceHandler) list(c echo.Context) error {
	ctx := c.Request().Context()
	domain := c.QueryParam("domain")
	var (
		advice []store.Advice
		err    error
	)
	if domain == "" {
		advice, err = h.Store.ListAllAdvice(ctx)
	} else {
		advice, err = h.Store.ListAdvice(ctx, domain)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, advice)
}

type BatchHandler struct {
	Runner Runner
}

func (h *BatchHandler) Register(g *echo.Group, secret []byte) {
	g.Use(authMiddleware(secret))
	g.POST("", h.run)
}

func (h *BatchHandler) run(c echo.Context) error {
	var req BatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Jobs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "jobs are required")
	}
	outcomes := batch.Run(c.Request().Context(), h.Runner, req.Jobs)
	resp := BatchResponse{Outcomes: make([]BatchOutcome, 0, len(outcomes))}
	for _, o := range outcomes {
		out := BatchOutcome{Target: o.Job.Target}
		if o.Err != nil {
			out.Error = o.Err.Error()
		} else {
			res := o.Result
			out.Result = &res
		}
		resp.Outcomes = append(resp.Outcomes, out)
	}
	return c.JSON(http.StatusOK, resp)
}
