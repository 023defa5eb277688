package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crmvoice-platform/internal/auth"
	"crmvoice-platform/internal/calls"
	"crmvoice-platform/internal/config"
	"crmvoice-platform/internal/dedup"
	"crmvoice-platform/internal/signature"
	"crmvoice-platform/internal/telnyx"
	"crmvoice-platform/internal/tools"
	"crmvoice-platform/pkg/logger"
	"crmvoice-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional .env for local runs; real deployments inject env directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	telnyxStore := telnyx.NewSQLStore(db)
	callStore := calls.NewSQLStore(db)
	toolStore := tools.NewSQLStore(db)

	// Tables and unique indexes are created before traffic is served, so
	// the upsert paths can rely on them unconditionally.
	schemaCtx, cancelSchema := context.WithTimeout(rootCtx, 30*time.Second)
	defer cancelSchema()
	for name, ensure := range map[string]func(context.Context) error{
		"telnyx": telnyxStore.EnsureSchema,
		"calls":  callStore.EnsureSchema,
		"tools":  toolStore.EnsureSchema,
	} {
		if err := ensure(schemaCtx); err != nil {
			log.Error("schema init failed", "module", name, "err", err)
			os.Exit(1)
		}
	}

	sigCfg := signature.Config{
		PublicKeyB64:    cfg.Telnyx.PublicKey,
		Secret:          cfg.Telnyx.WebhookSecret,
		AllowUnverified: cfg.Telnyx.AllowUnverified,
	}
	replays := dedup.NewFilter(rdb)

	aggregator := &calls.Aggregator{Store: callStore, Log: log}
	recorder := &tools.Recorder{Store: toolStore, Calls: callStore, Log: log}

	deps := appDeps{
		telnyxWebhook: telnyx.WebhookHandler{Signature: sigCfg, Store: telnyxStore, Dedup: replays},
		telnyxAPI:     telnyx.APIHandlers{Store: telnyxStore, Dedup: replays},
		callWebhooks:  calls.WebhookHandlers{Agg: aggregator},
		callAPI:       calls.APIHandlers{Store: callStore},
		toolHandlers:  tools.Handlers{Recorder: recorder},
		authMW:        auth.RequireAccessToken(authManager),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
