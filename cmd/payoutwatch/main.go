// Package main implements the payoutwatch service.
// It re-verifies every pool slot in the miner inventory on a schedule and on
// new blocks, stores the results and raises alerts for HIGH risk slots.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bardlex/poolverify/internal/bitcoin"
	"github.com/bardlex/poolverify/internal/config"
	"github.com/bardlex/poolverify/internal/database"
	"github.com/bardlex/poolverify/internal/database/influx"
	"github.com/bardlex/poolverify/internal/database/postgres"
	"github.com/bardlex/poolverify/internal/database/redis"
	"github.com/bardlex/poolverify/internal/messaging"
	"github.com/bardlex/poolverify/internal/stratum"
	"github.com/bardlex/poolverify/internal/verify"
	"github.com/bardlex/poolverify/internal/watch"
	"github.com/bardlex/poolverify/pkg/log"
)

const (
	// historyRetention bounds how long verification rows stay in PostgreSQL
	historyRetention = 30 * 24 * time.Hour
	shutdownTimeout  = 30 * time.Second
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting payoutwatch",
		"version", cfg.Version,
		"inventory", cfg.InventoryFile,
		"poll_interval", cfg.PollInterval,
		"min_share", cfg.MinShare,
	)

	inventory, err := config.LoadInventory(cfg.InventoryFile)
	if err != nil {
		logger.WithError(err).Error("failed to load inventory")
		os.Exit(1)
	}
	logger.Info("inventory loaded", "miners", len(inventory.Miners), "slots", inventory.SlotCount())

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := newService(ctx, cfg, inventory, logger)
	if err != nil {
		logger.WithError(err).Error("failed to start service")
		os.Exit(1)
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() {
		done <- svc.watcher.Run(ctx)
	}()

	stopped := false
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-done:
		logger.WithError(err).Error("watcher stopped unexpectedly")
		stopped = true
	}
	cancel()

	// Graceful shutdown
	if !stopped {
		select {
		case <-done:
		case <-time.After(shutdownTimeout):
			logger.Error("watcher did not stop in time", "timeout", shutdownTimeout)
		}
	}

	if err := svc.closeAll(); err != nil {
		logger.WithError(err).Error("shutdown failed")
		os.Exit(1)
	}

	logger.Info("payoutwatch stopped")
}

// service holds the watcher and everything that must be closed with it
type service struct {
	watcher *watch.Watcher
	logger  *log.Logger
	closers []func() error
}

func newService(ctx context.Context, cfg *config.Config, inventory *config.Inventory, logger *log.Logger) (*service, error) {
	svc := &service{logger: logger}

	verifier, err := svc.newVerifier(ctx, cfg)
	if err != nil {
		svc.closeAll()
		return nil, err
	}

	sinks, err := svc.newSinks(ctx, cfg)
	if err != nil {
		svc.closeAll()
		return nil, err
	}

	opts := []watch.Option{
		watch.WithSinks(sinks...),
		watch.WithCooldown(watch.NewCooldown(cfg.AlertCooldown)),
	}
	if cfg.BitcoinZMQAddr != "" {
		notifier, err := bitcoin.NewZMQNotifier(cfg.BitcoinZMQAddr, logger)
		if err != nil {
			logger.WithError(err).Warn("block notifications disabled")
		} else {
			svc.closers = append(svc.closers, notifier.Close)
			opts = append(opts, watch.WithBlockNotifier(notifier))
		}
	}

	svc.watcher = watch.NewWatcher(watch.Config{
		PollInterval:        cfg.PollInterval,
		MaxConcurrentProbes: cfg.MaxConcurrentProbes,
		ProbesPerSecond:     cfg.ProbesPerSecond,
	}, verifier, inventory, logger, opts...)
	return svc, nil
}

func (s *service) newVerifier(ctx context.Context, cfg *config.Config) (*verify.Verifier, error) {
	network, err := bitcoin.NetworkByName(cfg.BitcoinNetwork)
	if err != nil {
		return nil, err
	}

	var opts []verify.Option
	if resolver, err := verify.NewDNSResolver(cfg.DNSServer, 0, s.logger); err != nil {
		s.logger.WithError(err).Warn("dns lookup disabled")
	} else {
		opts = append(opts, verify.WithResolver(resolver))
	}

	if cfg.ChainRPCEnabled() {
		chain, err := bitcoin.NewChainClient(cfg.BitcoinRPCHost, cfg.BitcoinRPCPort, cfg.BitcoinRPCUser, cfg.BitcoinRPCPassword)
		if err != nil {
			s.logger.WithError(err).Warn("chain height checks disabled")
		} else {
			s.closers = append(s.closers, func() error { chain.Close(); return nil })
			opts = append(opts, verify.WithChainTip(chain))
			s.logNodeTip(ctx, chain)
		}
	}

	prober := stratum.NewProber(stratum.Config{
		ClientName: cfg.ClientName,
		StrictTLS:  cfg.StrictTLS,
	}, s.logger)

	return verify.NewVerifier(verify.Config{
		MinShare: cfg.MinShare,
		Timeout:  cfg.ProbeTimeout,
		Network:  network,
	}, prober, s.logger, opts...), nil
}

// logNodeTip reports the node's tip at startup; failures only warn
func (s *service) logNodeTip(ctx context.Context, chain *bitcoin.ChainClient) {
	if err := chain.Ping(ctx); err != nil {
		s.logger.WithError(err).Warn("bitcoin node unreachable, chain height checks will fail")
		return
	}
	height, err := chain.GetBlockCount(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("failed to read node height")
		return
	}
	hash, err := chain.GetBestBlockHash(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("failed to read node tip")
		return
	}
	s.logger.Info("connected to bitcoin node", "height", height, "best_block", hash)
}

func (s *service) newSinks(ctx context.Context, cfg *config.Config) ([]watch.Sink, error) {
	var sinks []watch.Sink

	if dbConfig := databaseConfig(cfg); dbConfig.Postgres != nil || dbConfig.Redis != nil || dbConfig.Influx != nil {
		manager, err := database.NewManager(ctx, dbConfig, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create database manager: %w", err)
		}
		s.closers = append(s.closers, manager.Close)
		manager.StartPeriodicTasks(ctx, historyRetention)
		sinks = append(sinks, watch.NewDatabaseSink(manager))
	}

	if len(cfg.KafkaBrokers) > 0 {
		client := messaging.NewKafkaClient(cfg.KafkaBrokers, s.logger)
		s.closers = append(s.closers, client.Close)
		sinks = append(sinks, watch.NewKafkaSink(client))
	}

	if len(sinks) == 0 {
		s.logger.Warn("no sinks configured, results are only logged")
	}
	return sinks, nil
}

// databaseConfig enables each store whose address is set
func databaseConfig(cfg *config.Config) *database.Config {
	dbConfig := &database.Config{ResultTTL: cfg.ResultTTL}
	if cfg.PostgresURL != "" {
		dbConfig.Postgres = postgres.DefaultConfig(cfg.PostgresURL)
	}
	if cfg.RedisURL != "" {
		dbConfig.Redis = &redis.Config{
			URL:          cfg.RedisURL,
			PoolSize:     10,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		}
	}
	if cfg.InfluxEnabled() {
		dbConfig.Influx = &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		}
	}
	return dbConfig
}

func (s *service) closeAll() error {
	var lastErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.WithError(err).Error("failed to close resource")
			lastErr = err
		}
	}
	s.closers = nil
	return lastErr
}
