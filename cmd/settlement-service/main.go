package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/prize-settlement/internal/settlement/leaderboard"
	"github.com/radieske/prize-settlement/internal/settlement/ledger"
	"github.com/radieske/prize-settlement/internal/settlement/orchestrator"
	"github.com/radieske/prize-settlement/internal/settlement/publisher"
	"github.com/radieske/prize-settlement/internal/settlement/registry"
	shttp "github.com/radieske/prize-settlement/internal/settlement/http"
	"github.com/radieske/prize-settlement/internal/shared/cache"
	"github.com/radieske/prize-settlement/internal/shared/config"
	"github.com/radieske/prize-settlement/internal/shared/db"
	"github.com/radieske/prize-settlement/internal/shared/kafka"
	"github.com/radieske/prize-settlement/internal/shared/logger"
	"github.com/radieske/prize-settlement/internal/shared/metrics"
)

func main() {
	// carrega config; segredos ausentes derrubam o processo no start
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Errorf("config: %w", err))
	}

	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()
	log.Info("starting service",
		zap.String("service", cfg.ServiceName),
		zap.String("policy", cfg.Settlement.Policy),
		zap.String("token_id", cfg.Ledger.TokenID),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Registro de projetos (somente leitura)
	pg, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()
	projects := registry.NewPostgres(pg)
	if err := projects.EnsureSchema(ctx); err != nil {
		log.Fatal("registry schema", zap.Error(err))
	}
	log.Info("postgres connected")

	// Cache do leaderboard
	redisClient, err := cache.ConnectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatal("failed to connect redis", zap.Error(err))
	}
	defer redisClient.Close()
	log.Info("redis connected")

	// Tópicos de auditoria das pernas e do fechamento de cada execução
	if cfg.Env == "local" || cfg.Env == "dev" {
		if err := kafka.EnsureTopics(ctx, cfg.KafkaBrokers, cfg.TopicSettlementLegs, cfg.TopicSettlementCompleted); err != nil {
			log.Warn("ensure topics failed", zap.Error(err))
		}
	}
	pub := publisher.NewKafkaPublisher(
		kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicSettlementLegs),
		kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicSettlementCompleted),
		log,
	)
	defer pub.Close()

	m := metrics.NewSettlement(prometheus.DefaultRegisterer)

	creds, err := ledger.NewEntitySecretCredentials(cfg.Ledger.PublicKeyPEM, cfg.Ledger.EntitySecret)
	if err != nil {
		log.Fatal("ledger credentials", zap.Error(err))
	}
	client, err := ledger.New(ledger.Options{
		BaseURL:           cfg.Ledger.BaseURL,
		APIKey:            cfg.Ledger.APIKey,
		Blockchain:        cfg.Ledger.Blockchain,
		CustodyType:       cfg.Ledger.CustodyType,
		FeeLevel:          cfg.Ledger.FeeLevel,
		CallTimeout:       cfg.Ledger.CallTimeout,
		MaxRetries:        cfg.Ledger.MaxRetries,
		RetryBackoff:      cfg.Ledger.RetryBackoff,
		RequestsPerSecond: cfg.Ledger.RequestsPerSecond,
		Burst:             cfg.Ledger.Burst,
		Credentials:       creds,
		Metrics:           m,
		Log:               log,
	})
	if err != nil {
		log.Fatal("ledger client", zap.Error(err))
	}

	board := leaderboard.NewService(log, projects, client,
		leaderboard.NewRedisCache(redisClient, cfg.Ledger.TokenID),
		cfg.Ledger.TokenID, cfg.LeaderboardTTL, cfg.Settlement.Parallelism)

	orch, err := orchestrator.New(client, projects, orchestrator.Options{
		TokenID:     cfg.Ledger.TokenID,
		Master:      ledger.WalletRef{WalletID: cfg.Ledger.MasterWallet, Address: cfg.Ledger.MasterAddress},
		Policy:      cfg.Settlement.Policy,
		Parallelism: cfg.Settlement.Parallelism,
		CallTimeout: callBudget(cfg.Ledger),
		Publisher:   pub,
		Leaderboard: board,
		Metrics:     m,
		Log:         log,
	})
	if err != nil {
		log.Fatal("orchestrator", zap.Error(err))
	}

	// Servidor de métricas e health check
	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, nil, func(ctx context.Context) error {
		if err := projects.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	})
	log.Info("metrics/health listening", zap.String("addr", metricsSrv.Addr))

	api := &shttp.API{Settlements: orch, Leaderboard: board, Log: log}
	apiSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort, // ex: 8084
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("api listening", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("api srv", zap.Error(err))
		}
	}()

	<-ctx.Done()

	// execuções em andamento terminam antes de fechar os writers
	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown", zap.Error(err))
	}
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Info("settlement-service stopped")
}

// callBudget é o teto de uma chamada do orquestrador: todas as tentativas do client mais os backoffs
func callBudget(l config.Ledger) time.Duration {
	attempts := time.Duration(l.MaxRetries + 1)
	backoff := time.Duration(l.MaxRetries*(l.MaxRetries+1)/2) * l.RetryBackoff
	return l.CallTimeout*attempts + backoff
}
