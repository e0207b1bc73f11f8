// semcached is the multi-layer semantic cache service. It fronts the
// PostgreSQL/pgvector layer tables and the Redis knowledge source with the
// routed, recovery-governed cache API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"dev.helix.semcache/internal/alerting"
	"dev.helix.semcache/internal/config"
	"dev.helix.semcache/internal/credentials"
	"dev.helix.semcache/internal/handlers"
	"dev.helix.semcache/internal/knowledge"
	"dev.helix.semcache/internal/layers"
	"dev.helix.semcache/internal/models"
	"dev.helix.semcache/internal/orchestrator"
	"dev.helix.semcache/internal/recovery"
	"dev.helix.semcache/internal/router"
	"dev.helix.semcache/internal/storage/pgvector"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(os.Getenv("SEMCACHE_LOG_LEVEL")); err == nil {
		logger.SetLevel(lvl)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("semcached exited")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := alerting.NewMetrics(registry)
	alerts := alerting.NewAsyncSink(alerting.NewLogSink(logger), 256)
	defer alerts.Close()

	provider := credentials.NewEnvProvider()
	client, err := pgvector.NewClient(&pgvector.Config{
		CredentialName:  cfg.Database.CredentialName,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
		AcquireTimeout:  cfg.Database.AcquireTimeout,
	}, provider, logger)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()
	if err := client.EnsureSchema(ctx); err != nil {
		return err
	}

	var remote layers.KnowledgeSource
	var knowledgeClient *knowledge.Client
	if cfg.Redis.Enabled {
		knowledgeClient = knowledge.NewClient(&knowledge.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Timeout:  5 * time.Second,
		}, logger)
		defer knowledgeClient.Close()
		if err := knowledgeClient.Ping(ctx); err != nil {
			logger.WithError(err).Warn("knowledge source unreachable at startup, global layer degrades to local fallback")
		}
		remote = knowledgeClient
	}

	layerSet := buildLayers(cfg, client, remote, logger)

	sweeper := layers.NewSweeper(layerSet, &layers.SweeperConfig{Interval: cfg.Sweeper.Interval}, metrics, logger)
	if cfg.Sweeper.Enabled {
		sweeper.Start()
		defer sweeper.Stop()
	}

	rt := router.New(nil, cfg.Cache.FallbackOrder)
	governor := recovery.NewGovernor(recovery.RetryPolicy{
		MaxAttempts: cfg.Cache.MaxRetries,
		BaseDelay:   cfg.Cache.RetryBaseDelay,
		Multiplier:  cfg.Cache.RetryMultiplier,
	}, alerts, metrics, logger)
	orch := orchestrator.New(layerSet, rt, governor, metrics, alerts, logger)

	engine := gin.New()
	engine.Use(gin.Recovery())

	v1 := engine.Group("/v1")
	handlers.NewCacheHandler(orch, logger).RegisterRoutes(v1)

	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	engine.GET("/healthz", func(c *gin.Context) {
		if err := client.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Server.Port).Info("semcached listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildLayers(cfg *config.Config, client *pgvector.Client, remote layers.KnowledgeSource, logger *logrus.Logger) []layers.Cache {
	common := func(layer models.Layer) layers.Options {
		return layers.Options{
			Store:              pgvector.NewStore(client, layer),
			OpTimeout:          cfg.Cache.OperationTimeout,
			DefaultTTL:         cfg.Cache.DefaultTTL,
			Reconnect:          client.Reconnect,
			RefreshCredentials: client.Reconnect,
			Logger:             logger,
		}
	}

	predictiveOpts := common(models.LayerPredictive)
	predictiveOpts.DefaultTTL = cfg.Cache.PredictiveTTL

	semanticOpts := common(models.LayerSemantic)
	semanticOpts.Threshold = cfg.Cache.SemanticThreshold

	return []layers.Cache{
		layers.NewPredictive(predictiveOpts),
		layers.NewSemantic(semanticOpts),
		layers.NewVector(common(models.LayerVector), &layers.FrequencyReranker{}),
		layers.NewGlobal(common(models.LayerGlobal), remote, cfg.Cache.GlobalFallbackEnabled),
		layers.NewVectorDiary(common(models.LayerVectorDiary)),
	}
}
