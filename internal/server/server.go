package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/samjosdev/deepresearch/config"
	agentcore "github.com/samjosdev/deepresearch/internal/agent/core"
	agenttele "github.com/samjosdev/deepresearch/internal/agent/telemetry"
	"github.com/samjosdev/deepresearch/internal/notify"
	"github.com/samjosdev/deepresearch/internal/reportindex"
	"github.com/samjosdev/deepresearch/internal/runtime"
	"github.com/samjosdev/deepresearch/internal/store"
	"github.com/samjosdev/deepresearch/session"
	"github.com/samjosdev/deepresearch/session/inmemory"
	"github.com/samjosdev/deepresearch/session/redisstore"
)

// Run wires the full service and serves it until the listener fails.
func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
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
		AllowHeaders:     []string{"Content-Type", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	tele := agenttele.NewTelemetry(cfg.Telemetry)

	llm, err := agentcore.NewLLMProvider(cfg.LLM)
	if err != nil {
		return err
	}
	questions := agentcore.NewQuestionAgent(cfg, llm, tele)
	planner := agentcore.NewPlanner(cfg, llm, tele)
	searcher, err := agentcore.NewSearchAgent(cfg, llm, tele)
	if err != nil {
		return err
	}
	writer := agentcore.NewWriterAgent(cfg, llm, tele)
	runner := agentcore.NewRunner(cfg, planner, searcher, writer, tele)

	var notifier agentcore.Notifier
	if cfg.Email.APIKey != "" {
		notifier = notify.NewSendGridNotifier(cfg.Email, tele)
	} else {
		log.Printf("email.api_key not set, report delivery disabled")
	}

	registry, err := buildRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer registry.Close()

	api := e.Group("/api")

	// Postgres is optional: without it the service still researches, it just
	// keeps no archive and no user accounts. Auth only makes sense with the
	// account store, so the chat endpoint is open in that mode.
	var archive session.Archive
	var secret []byte
	if cfg.Storage.Postgres.Configured() {
		secret, err = runtime.LoadJWTSecret(cfg)
		if err != nil {
			return err
		}
		dsn, err := cfg.Storage.Postgres.DSN()
		if err != nil {
			return err
		}
		if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		st, err := store.NewWithDSN(ctx, dsn)
		if err != nil {
			return err
		}

		index, err := reportindex.New()
		if err != nil {
			return err
		}
		if err := warmIndex(ctx, st, index); err != nil {
			log.Printf("report index warmup failed: %v", err)
		}
		archive = &indexedArchive{store: st, index: index}

		auth := &AuthHandler{Store: st, Secret: secret}
		auth.Register(api.Group("/auth"))
		rh := &ReportsHandler{Store: st, Index: index}
		rh.Register(api.Group("/reports"), secret)
	} else {
		log.Printf("postgres not configured, report archive disabled and chat served without auth")
	}

	manager := session.NewManager(cfg, registry, questions, runner, notifier, archive)
	ch := &ChatHandler{Manager: manager}
	ch.Register(api.Group("/chat"), secret)

	if addr == "" {
		addr = cfg.Server.Address
		if addr == "" {
			addr = ":10011"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

func withAuth(next echo.HandlerFunc, secret []byte) echo.HandlerFunc {
	return runtime.EchoAuthMiddleware(secret)(next)
}

// buildRegistry selects the conversation backend from configuration.
func buildRegistry(ctx context.Context, cfg *config.Config) (session.Registry, error) {
	switch cfg.Session.Backend {
	case "", "inmemory":
		return inmemory.NewRegistry(cfg.Session.TTL, cfg.Session.SweepInterval), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
		return redisstore.NewRegistry(rdb, cfg.Session.TTL), nil
	default:
		return nil, fmt.Errorf("unsupported session backend: %s", cfg.Session.Backend)
	}
}

// indexedArchive persists runs and keeps the search index in step.
type indexedArchive struct {
	store *store.Store
	index *reportindex.Index
}

func (a *indexedArchive) SaveRun(ctx context.Context, result agentcore.RunResult) error {
	if err := a.store.SaveRun(ctx, result); err != nil {
		return err
	}
	return a.index.Add(store.ReportRecord{
		ID:              result.ID,
		Topic:           result.Topic,
		Summary:         result.Report.Summary,
		MarkdownReport:  result.Report.MarkdownBody,
		FollowUps:       result.Report.FollowUps,
		SearchesPlanned: result.SearchesPlanned,
		SearchesUsed:    result.SearchesUsed,
		ProcessingTime:  result.ProcessingTime,
		CreatedAt:       result.CreatedAt,
	})
}

// warmIndex loads the most recent archived reports into the search index.
func warmIndex(ctx context.Context, st *store.Store, index *reportindex.Index) error {
	records, err := st.ListReports(ctx, 100, 0)
	if err != nil {
		return err
	}
	for _, rec := range records {
		full, ok, err := st.GetReport(ctx, rec.ID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := index.Add(full); err != nil {
			return err
		}
	}
	return nil
}
