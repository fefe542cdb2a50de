package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/refetch/config"
	"github.com/mohammad-safakhou/refetch/internal/fetch"
	"github.com/mohammad-safakhou/refetch/internal/history"
	"github.com/mohammad-safakhou/refetch/internal/judge"
	"github.com/mohammad-safakhou/refetch/internal/orchestrate"
	"github.com/mohammad-safakhou/refetch/internal/store"
	"github.com/mohammad-safakhou/refetch/internal/telemetry"
	"github.com/mohammad-safakhou/refetch/internal/worker"
)

// Run wires the full service and blocks serving HTTP.
func Run(cfg *config.Config) error {
	e := newEcho()

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	if cfg.Telemetry.Enabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	if err := store.Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
		return err
	}

	ctx := context.Background()
	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return err
	}

	var metrics *telemetry.Metrics
	if cfg.Telemetry.Enabled {
		metrics = telemetry.New(prometheus.DefaultRegisterer)
	}

	registry := fetch.NewRegistry(cfg.Fetch)
	wrk := worker.New(st, registry, cfg.Fetch)
	hist := history.NewService(st)

	var (
		jdg judge.Judge = judge.HeuristicJudge{}
		adv judge.StrategyAdvisor
	)
	if cfg.LLM.APIKey != "" {
		llm := judge.NewLLMClient(cfg.LLM)
		jdg = llm
		adv = llm
	}

	orch := orchestrate.New(orchestrate.Config{
		Worker:       wrk,
		Judge:        jdg,
		Advisor:      adv,
		History:      hist,
		Metrics:      metrics,
		Fetch:        cfg.Fetch,
		Orchestrator: cfg.Orchestrator,
	})

	secret := []byte(cfg.Server.JWTSecret)
	if len(secret) == 0 {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
	}

	api := e.Group("/api")
	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	(&RunsHandler{Runner: orch, Store: st}).Register(api.Group("/runs"), secret)
	(&AttemptsHandler{Store: st}).Register(api.Group("/attempts"), secret)
	(&HistoryHandler{Service: hist}).Register(api.Group("/history"), secret)
	(&AdviceHandler{Store: st}).Register(api.Group("/advice"), secret)
	(&BatchHandler{Runner: orch}).Register(api.Group("/batch"), secret)

	if cfg.Batch.CronSchedule != "" {
		var rdb *redis.Client
		if cfg.Storage.Redis.Host != "" {
			rdb = redis.NewClient(&redis.Options{
				Addr:     cfg.Storage.Redis.Addr(),
				Password: cfg.Storage.Redis.Password,
				DB:       cfg.Storage.Redis.DB,
			})
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
			}
		}
		sched := &Scheduler{
			Runner:      orch,
			Rdb:         rdb,
			CronSpec:    cfg.Batch.CronSchedule,
			PromptsFile: cfg.Batch.PromptsFile,
			Stop:        make(chan struct{}),
		}
		sched.Start()
	}

	return e.Start(cfg.Server.Address)
}

// newEcho builds the HTTP layer: JSON error bodies, request logging with the
// [HTTP] prefix, permissive CORS.
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))
	return e
}
