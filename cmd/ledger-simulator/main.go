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

	simhttp "github.com/radieske/prize-settlement/internal/ledger-simulator/http"
	"github.com/radieske/prize-settlement/internal/ledger-simulator/store"
	"github.com/radieske/prize-settlement/internal/shared/config"
	"github.com/radieske/prize-settlement/internal/shared/logger"
	"github.com/radieske/prize-settlement/internal/shared/metrics"
)

func main() {
	cfg, err := config.LoadService("ledger-simulator")
	if err != nil {
		panic(fmt.Errorf("config: %w", err))
	}

	// Inicializa logger estruturado
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()
	log.Info("starting service",
		zap.String("service", cfg.ServiceName),
		zap.Float64("failure_rate", cfg.SimFailureRate),
	)

	// Estado em memória: reiniciar o processo zera carteiras e histórico
	st := store.NewMemory()
	reg := prometheus.NewRegistry()
	sim := simhttp.NewServer(log, st, cfg.Ledger.APIKey, cfg.SimFailureRate, reg)

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, reg, nil)
	log.Info("metrics/health listening", zap.String("addr", metricsSrv.Addr))

	apiSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort, // ex: 8090
		Handler:           sim.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("api listening", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("api srv", zap.Error(err))
		}
	}()

	// Sinalização para shutdown gracioso (SIGINT/SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Info("ledger-simulator stopped",
		zap.Int("wallets", len(st.Wallets())),
		zap.Int("transfers_accepted", st.Accepted()),
	)
}
