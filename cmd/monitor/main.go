package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chainalerts/internal/alert"
	"chainalerts/internal/chains"
	"chainalerts/internal/config"
	cronrunner "chainalerts/internal/cron"
	"chainalerts/internal/dedupe"
	"chainalerts/internal/evm"
	"chainalerts/internal/handler"
	"chainalerts/internal/logger"
	"chainalerts/internal/observability"
	"chainalerts/internal/service"
	"chainalerts/internal/threshold"
	"chainalerts/internal/watcher"
)

func main() {
	cfgPath := os.Getenv("CA_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("CA_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logBoot(logger, cfg)

	registry := chains.NewRegistry(cfg.Chains.RPC, cfg.Chains.Allowed)
	clients := evm.NewClients(registry, cfg.RPC.Timeout)
	meta := evm.NewMetaCache(clients, logger)

	store, err := dedupe.New(cfg.Dedupe.RedisURL, cfg.Dedupe.MaxMemoryEntries, logger)
	if err != nil {
		logger.Fatal("dedupe store init failed", zap.Error(err))
	}

	thresholds, err := threshold.New(cfg.Threshold.Rules, cfg.Threshold.Default)
	if err != nil {
		logger.Fatal("threshold rules invalid", zap.Error(err))
	}

	metrics := observability.NewMetrics("")

	dispatcher := &alert.Dispatcher{
		Sender: &alert.TelegramSender{
			HTTP:     &http.Client{Timeout: 15 * time.Second},
			BotToken: cfg.Alert.TelegramBotToken,
			ChatID:   cfg.Alert.TelegramChatID,
		},
		Policy: alert.Policy{
			MaxAttempts: cfg.Alert.RetryMaxAttempts,
			BaseDelay:   cfg.Alert.RetryBaseDelay,
			MaxDelay:    cfg.Alert.RetryMaxDelay,
			Multiplier:  cfg.Alert.RetryMultiplier,
		},
		Logger: logger,
	}

	// Webhook deliveries are not rate limited; the per-minute cap applies
	// per polling watcher, each of which gets its own limiter below.
	pipeline := &service.AlertPipeline{
		Registry:   registry,
		Meta:       meta,
		Dedupe:     store,
		Thresholds: thresholds,
		Dispatcher: dispatcher,
		Labels:     cfg.Watch.TokenLabels,
		Metrics:    metrics,
		Logger:     logger,
		DedupeTTL:  cfg.Dedupe.TTL,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	healthHandler := &handler.HealthHandler{Dedupe: store}
	healthHandler.Register(engine)
	moralisHandler := &handler.MoralisWebhookHandler{
		Secret:           cfg.Webhook.MoralisSecret,
		SignatureHeaders: cfg.Webhook.MoralisSignatureHeaders,
		Interaction:      cfg.Watch.InteractionContract,
		Registry:         registry,
		Pipeline:         pipeline,
		Metrics:          metrics,
		Logger:           logger,
	}
	moralisHandler.Register(engine)
	tenderlyHandler := &handler.TenderlyWebhookHandler{
		Secret:      cfg.Webhook.TenderlySecret,
		Interaction: cfg.Watch.InteractionContract,
		Registry:    registry,
		Readers:     clients,
		Pipeline:    pipeline,
		Metrics:     metrics,
		Logger:      logger,
	}
	tenderlyHandler.Register(engine)
	engine.GET("/metrics", gin.WrapH(observability.Handler()))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Poll.Enabled {
		spec := "@every " + cfg.Poll.Interval.String()
		for _, raw := range cfg.Poll.Chains {
			key, ok := chains.Resolve(raw)
			if !ok {
				logger.Warn("poll chain not resolvable, skipping", zap.String("chain", raw))
				continue
			}
			chain, ok := registry.Get(key)
			if !ok || chain.RPC == "" {
				logger.Warn("poll chain has no rpc endpoint, skipping", zap.String("chain", string(key)))
				continue
			}
			chainPipeline := *pipeline
			chainPipeline.Limiter = alert.NewRateLimiter(cfg.Alert.RateLimitPerMin)
			w := &watcher.InteractionWatcher{
				Chain:        chain,
				Interaction:  cfg.Watch.InteractionContract,
				Readers:      clients,
				Pipeline:     &chainPipeline,
				MaxBlockSpan: cfg.Poll.MaxBlockSpan,
				Metrics:      metrics,
				Logger:       logger.With(zap.String("chain", string(key))),
			}
			if _, err := cronRunner.Add(spec, w.Tick); err != nil {
				logger.Warn("cron register watcher failed", zap.String("chain", string(key)), zap.Error(err))
			}
		}
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// logBoot records which configuration surfaces are populated without
// leaking their values.
func logBoot(logger *zap.Logger, cfg config.Config) {
	logger.Info("monitor starting",
		zap.String("env", cfg.App.Env),
		zap.String("http_addr", cfg.Server.HTTPAddr),
		zap.Strings("chains_allowed", cfg.Chains.Allowed),
		zap.String("interaction_contract", cfg.Watch.InteractionContract),
		zap.Bool("moralis_secret_set", cfg.Webhook.MoralisSecret != ""),
		zap.Bool("tenderly_secret_set", cfg.Webhook.TenderlySecret != ""),
		zap.Bool("redis_url_set", cfg.Dedupe.RedisURL != ""),
		zap.Int("threshold_rules", len(cfg.Threshold.Rules)),
		zap.Int("token_labels", len(cfg.Watch.TokenLabels)),
		zap.Bool("poll_enabled", cfg.Poll.Enabled),
	)
}
