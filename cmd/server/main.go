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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/DoubleG2s/agente-ia-contabilidade/internal/agent"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/api/router"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/auth"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/config"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/http/handlers"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/llm"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/logger"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/observability/metrics"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/service"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/store"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/tools"
)

const (
	appName    = "Agente IA Contabilidade"
	appVersion = "1.0.0"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	log.Info("starting contabil API server",
		"port", cfg.Server.Port,
		"model", cfg.LLM.Model,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. 存储
	pool, err := store.ConnectPostgres(ctx, cfg.Database.URL, cfg.Retry.Policy())
	if err != nil {
		return err
	}
	defer pool.Close()

	var cache service.HistoryCache
	if cfg.Redis.Addr != "" {
		rdb, err := store.ConnectRedis(ctx, &redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Retry.Policy())
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		cache = store.NewHistoryCache(rdb, cfg.Redis.TTL())
		log.Info("history cache enabled", "addr", cfg.Redis.Addr)
	}

	conversations := store.NewConversationStore(pool)
	users := store.NewUserStore(pool)

	// 2. 指标
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// 3. 模型客户端与编排器
	client := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.Model,
		llm.WithBaseURL(cfg.LLM.APIBase),
		llm.WithTimeout(cfg.LLM.RequestTimeout()),
		llm.WithGeneration(int64(cfg.LLM.MaxTokens), cfg.LLM.Temperature),
	)

	opts := []agent.Option{agent.WithMetrics(metrics.NewCompletionMetrics(reg))}
	if cfg.Agent.TranscriptDir != "" {
		transcript, err := logger.NewTranscriptLogger(cfg.Agent.TranscriptDir)
		if err != nil {
			return err
		}
		defer func() { _ = transcript.Close() }()
		opts = append(opts, agent.WithRecorder(transcript))
		log.Info("completion transcript enabled", "path", transcript.Path())
	}

	ag := agent.NewAgent(client, tools.NewAccountingRegistry(time.Now), cfg.Agent.SystemPrompt, opts...)
	log.Info("tools registered", "tools", ag.Registry().Names())

	messages := service.NewMessages(ag, conversations, cache, service.Options{
		ContextTurns: cfg.Agent.HistoryContextTurns,
		TokenLimit:   cfg.Agent.HistoryTokenLimit,
	})

	// 4. 路由
	tokens := auth.NewTokens(cfg.Auth.SecretKey, cfg.Auth.AccessTokenTTL())
	r := router.New(&router.Config{
		Logger:             log,
		HTTPMetrics:        metrics.NewHTTPMetrics(reg),
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		AppName:            appName,
		AppVersion:         appVersion,
		Tokens:             tokens,
		Users:              users,
		Messages:           handlers.NewMessagesHandler(messages, log),
		Auth:               handlers.NewAuthHandler(users, tokens, log),
	})

	// 两个补全阶段各自受 LLM 超时约束
	writeTimeout := 2*cfg.LLM.RequestTimeout() + 15*time.Second
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}
