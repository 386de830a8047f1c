package server

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/aura-dx/aura/config"
	"github.com/aura-dx/aura/internal/audit"
	"github.com/aura-dx/aura/internal/casebase"
	"github.com/aura-dx/aura/internal/diagnosis"
	"github.com/aura-dx/aura/internal/drug"
	"github.com/aura-dx/aura/internal/ehr"
	"github.com/aura-dx/aura/internal/llm"
	"github.com/aura-dx/aura/internal/search"
	"github.com/aura-dx/aura/internal/store"
	"github.com/aura-dx/aura/internal/telemetry"
)

// storeSink adapts the store to the audit sink interface. Events are written
// best-effort with a short deadline so a slow database never stalls a run.
type storeSink struct {
	st      *store.Store
	timeout time.Duration
}

func (s storeSink) RecordEvent(runID, step, action, status, detail string) {
	timeout := s.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.st.InsertAuditEvent(ctx, runID, step, action, status, detail); err != nil {
		log.Printf("[AUDIT] failed to persist event for run %s: %v", runID, err)
	}
}

// Run assembles the service from configuration and serves until interrupted.
func Run(cfg *config.Config) error {
	logger := log.New(os.Stdout, "[HTTP] ", log.LstdFlags)

	dsn := cfg.Storage.Postgres.DSN()
	if err := store.Migrate("", dsn, "up", 0); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx := ctx
	if t := cfg.Storage.Postgres.Timeout; t > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	st, err := store.NewWithDSN(connectCtx, dsn)
	if err != nil {
		return err
	}
	defer st.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.Storage.Redis.Host, cfg.Storage.Redis.Port),
		Password:     cfg.Storage.Redis.Password,
		DB:           cfg.Storage.Redis.DB,
		DialTimeout:  cfg.Storage.Redis.Timeout,
		ReadTimeout:  cfg.Storage.Redis.Timeout,
		WriteTimeout: cfg.Storage.Redis.Timeout,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Printf("redis unreachable at startup, caching degraded: %v", err)
	}

	stats := telemetry.NewCollector(cfg.Telemetry)
	pipeline, err := buildPipeline(cfg, st, stats)
	if err != nil {
		return err
	}

	cache := NewResultCache(rdb, cfg.Storage.Redis.CacheTTL)
	scheduler, err := NewRetentionScheduler(cfg.Pipeline, st, rdb)
	if err != nil {
		return err
	}
	go scheduler.Start(ctx)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	if cfg.General.Debug {
		e.Debug = true
		e.Use(middleware.Logger())
	}
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := any(err.Error())
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			msg = he.Message
		}
		logger.Printf("%s %s -> %d: %v", c.Request().Method, c.Request().URL.Path, code, msg)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]any{"error": msg})
		}
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	secret := []byte(cfg.Server.JWTSecret)
	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(e.Group("/api/auth"))

	handler := &DiagnosisHandler{
		Runner:     pipeline,
		Runs:       st,
		Patients:   ehr.NewDirectory(st.DB),
		Cache:      cache,
		Stats:      stats,
		Log:        logger,
		RunTimeout: cfg.General.MaxProcessingTime,
	}
	handler.Register(e.Group("/api"), secret)

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", cfg.Server.Address)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildPipeline wires the diagnostic pipeline from configuration: the LLM
// agents, both literature searchers, the local case index, the drug checker
// and the audit recorder.
func buildPipeline(cfg *config.Config, st *store.Store, stats *telemetry.Collector) (*diagnosis.Pipeline, error) {
	provider := llm.NewClient(cfg.LLM)
	routing := cfg.LLM.Routing

	pipeLog := log.New(os.Stdout, "[PIPELINE] ", log.LstdFlags)
	var lexicon map[string][]string
	if cfg.Pipeline.LexiconFile != "" {
		loaded, err := diagnosis.LoadLexicon(cfg.Pipeline.LexiconFile)
		if err != nil {
			return nil, err
		}
		lexicon = loaded
	} else {
		pipeLog.Printf("no lexicon file configured, using built-in reference phrases")
	}

	searchLog := log.New(os.Stdout, "[SEARCH] ", log.LstdFlags)
	var cases *casebase.Index
	var err error
	if cfg.Pipeline.CasesFile != "" {
		cases, err = casebase.Load(cfg.Pipeline.CasesFile)
	} else {
		cases, err = casebase.NewIndex()
	}
	if err != nil {
		return nil, err
	}

	drugLog := log.New(os.Stdout, "[DRUG] ", log.LstdFlags)
	checker, err := drug.LoadChecker(cfg.Pipeline.DrugDatabaseFile, drugLog)
	if err != nil {
		return nil, err
	}

	recorder := audit.NewRecorder(
		log.New(os.Stdout, "[AUDIT] ", log.LstdFlags),
		storeSink{st: st, timeout: cfg.General.DefaultTimeout},
	)

	return &diagnosis.Pipeline{
		Patients:   ehr.NewDirectory(st.DB),
		Extractor:  &llm.SymptomExtractor{Provider: provider, Model: routing.Model(routing.Extraction), Tokens: stats},
		Literature: search.NewPubMed(cfg.Sources.PubMed, searchLog),
		Broad:      search.NewOpenAlex(cfg.Sources.OpenAlex, searchLog),
		Cases:      cases,
		Imaging:    &llm.ImageAnalyzer{Provider: provider, Model: routing.Model(routing.Vision), Tokens: stats},
		Critic:     &llm.Critic{Provider: provider, Model: routing.Model(routing.Critique), Tokens: stats},
		Reporter:   &llm.ReportWriter{Provider: provider, Model: routing.Model(routing.Synthesis), Tokens: stats},
		Drugs:      checker,

		Matcher: diagnosis.NewMatcher(lexicon),
		Audit:   recorder,
		Stats:   stats,
		Log:     pipeLog,

		BranchTimeout: cfg.Pipeline.BranchTimeout,
		MaxResults:    cfg.Pipeline.MaxSearchResults,
	}, nil
}
