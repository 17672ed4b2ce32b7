// Package database coordinates the optional result stores: PostgreSQL for
// history and alerts, Redis for the latest result per pool slot and InfluxDB
// for time series.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bardlex/poolverify/internal/database/influx"
	"github.com/bardlex/poolverify/internal/database/postgres"
	"github.com/bardlex/poolverify/internal/database/redis"
	"github.com/bardlex/poolverify/internal/verify"
	"github.com/bardlex/poolverify/pkg/circuit"
	"github.com/bardlex/poolverify/pkg/errors"
	"github.com/bardlex/poolverify/pkg/log"
	"github.com/bardlex/poolverify/pkg/retry"
)

// Manager writes verification results to every configured store. Any store
// may be nil.
type Manager struct {
	Postgres *postgres.Client
	Redis    *redis.Client
	Influx   *influx.Client

	// Repositories
	Results *postgres.ResultRepository
	Alerts  *postgres.AlertRepository

	resultTTL time.Duration
	logger    *log.Logger

	// Error handling
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// Config holds configuration for all database systems; nil entries are skipped
type Config struct {
	Postgres *postgres.Config
	Redis    *redis.Config
	Influx   *influx.Config

	// ResultTTL bounds how long the latest result stays in Redis
	ResultTTL time.Duration
}

// NewManager connects to every configured store
func NewManager(ctx context.Context, cfg *Config, logger *log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.Discard()
	}
	m := &Manager{
		resultTTL: cfg.ResultTTL,
		logger:    logger.WithComponent("database"),
		circuitBreaker: circuit.New(&circuit.Config{
			Name:            "database",
			MaxFailures:     3,
			SuccessRequired: 2,
			Timeout:         30 * time.Second,
			ResetTimeout:    60 * time.Second,
		}),
		retryConfig: retry.SinkConfig(),
	}

	if cfg.Postgres != nil {
		pgClient, err := postgres.NewClient(cfg.Postgres)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_connection",
				"failed to connect to PostgreSQL database")
		}
		if err := pgClient.EnsureSchema(ctx); err != nil {
			_ = pgClient.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_schema",
				"failed to create PostgreSQL tables")
		}
		m.Postgres = pgClient
		m.Results = postgres.NewResultRepository(pgClient.DB())
		m.Alerts = postgres.NewAlertRepository(pgClient.DB())
	}

	if cfg.Redis != nil {
		redisClient, err := redis.NewClient(cfg.Redis)
		if err != nil {
			origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
				"failed to connect to Redis database")
			if closeErr := m.Close(); closeErr != nil {
				return nil, origErr.WithContext("cleanup_error", closeErr.Error())
			}
			return nil, origErr
		}
		m.Redis = redisClient
	}

	if cfg.Influx != nil {
		influxClient, err := influx.NewClient(cfg.Influx)
		if err != nil {
			origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "influx_connection",
				"failed to connect to InfluxDB database")
			if closeErr := m.Close(); closeErr != nil {
				return nil, origErr.WithContext("cleanup_error", closeErr.Error())
			}
			return nil, origErr
		}
		m.Influx = influxClient
		go m.logInfluxErrors()
	}

	return m, nil
}

// Close closes all database connections
func (m *Manager) Close() error {
	var errs []error

	if m.Postgres != nil {
		if err := m.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("PostgreSQL close error: %w", err))
		}
	}

	if m.Redis != nil {
		if err := m.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if m.Influx != nil {
		m.Influx.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("database close errors: %v", errs)
	}

	return nil
}

// Health checks the health of all configured connections
func (m *Manager) Health(ctx context.Context) error {
	if m.Postgres != nil {
		if err := m.Postgres.Health(ctx); err != nil {
			return fmt.Errorf("PostgreSQL health check failed: %w", err)
		}
	}

	if m.Redis != nil {
		if err := m.Redis.Health(ctx); err != nil {
			return fmt.Errorf("redis health check failed: %w", err)
		}
	}

	if m.Influx != nil {
		if err := m.Influx.Health(ctx); err != nil {
			return fmt.Errorf("InfluxDB health check failed: %w", err)
		}
	}

	return nil
}

// RecordVerification stores res. PostgreSQL is authoritative and retried;
// Redis and InfluxDB are best effort.
func (m *Manager) RecordVerification(ctx context.Context, miner string, slot int, res *verify.Result) error {
	if m.Postgres != nil {
		rec, err := NewVerificationRecord(miner, slot, res)
		if err != nil {
			return err
		}
		err = m.circuitBreaker.Execute(ctx, func() error {
			return retry.Do(ctx, m.retryConfig, func() error {
				if err := m.Results.CreateResult(ctx, rec); err != nil {
					return errors.Wrap(err, errors.ErrorTypeDatabase, "record_verification",
						"failed to store verification in PostgreSQL").
						WithContext("miner", miner).
						WithContext("slot", slot)
				}
				return nil
			})
		})
		if err != nil {
			return err
		}
	}

	if m.Influx != nil {
		m.Influx.WriteVerification(NewVerificationMetric(miner, slot, res))
	}

	if m.Redis != nil {
		if err := m.Redis.SetLatestResult(ctx, miner, slot, res, m.resultTTL); err != nil {
			m.logger.WithError(err).Warn("failed to cache latest result (non-critical)",
				"miner", miner, "slot", slot)
		}
		key := redis.LabelCounterKey(string(res.Risk.Label), res.CheckedAt)
		if _, err := m.Redis.IncrementCounter(ctx, key, 48*time.Hour); err != nil {
			m.logger.WithError(err).Warn("failed to count label (non-critical)", "key", key)
		}
	}

	return nil
}

// RecordAlert stores a raised alert
func (m *Manager) RecordAlert(ctx context.Context, alert *postgres.Alert) error {
	if m.Postgres == nil {
		return nil
	}
	return m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			if err := m.Alerts.CreateAlert(ctx, alert); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "record_alert",
					"failed to store alert in PostgreSQL").
					WithContext("miner", alert.Miner).
					WithContext("slot", alert.Slot)
			}
			return nil
		})
	})
}

// StartPeriodicTasks prunes old history and flushes metrics until ctx is done
func (m *Manager) StartPeriodicTasks(ctx context.Context, retention time.Duration) {
	if m.Postgres != nil && retention > 0 {
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					n, err := m.Results.PruneResults(ctx, retention)
					if err != nil {
						m.logger.WithError(err).Warn("failed to prune verification history")
						continue
					}
					m.logger.Debug("pruned verification history", "rows", n)
				}
			}
		}()
	}

	if m.Influx != nil {
		go func() {
			ticker := time.NewTicker(10 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					m.Influx.Flush()
				}
			}
		}()
	}
}

func (m *Manager) logInfluxErrors() {
	for err := range m.Influx.Errors() {
		m.logger.WithError(err).Warn("InfluxDB write failed")
	}
}

// NewVerificationRecord flattens res into a PostgreSQL row
func NewVerificationRecord(miner string, slot int, res *verify.Result) (*postgres.VerificationRecord, error) {
	payload, err := json.Marshal(res)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "encode_verification", "failed to encode result")
	}
	return &postgres.VerificationRecord{
		Miner:            miner,
		Slot:             slot,
		Endpoint:         res.Endpoint,
		ResolvedIP:       res.ResolvedIP,
		Connected:        res.Connected,
		AuthOK:           res.AuthOK,
		NotifyReceived:   res.NotifyReceived,
		CoinbaseParsed:   res.CoinbaseParsed,
		CoinbaseTxID:     res.CoinbaseTxID,
		RecipientAddress: res.RecipientAddress,
		YourSharePct:     res.YourSharePct,
		LargestPaysYou:   res.LargestPaysYou,
		Score:            res.Risk.Score,
		Label:            string(res.Risk.Label),
		Summary:          res.Risk.Summary,
		Payload:          payload,
		CheckedAt:        res.CheckedAt,
	}, nil
}

// NewVerificationMetric extracts the time-series fields of res
func NewVerificationMetric(miner string, slot int, res *verify.Result) influx.VerificationMetric {
	return influx.VerificationMetric{
		Miner:          miner,
		Slot:           slot,
		Host:           res.Host,
		Transport:      res.Transport,
		Label:          string(res.Risk.Label),
		Score:          res.Risk.Score,
		SharePct:       res.YourSharePct,
		LatencyMs:      res.LatencyMs,
		Outputs:        len(res.Outputs),
		Connected:      res.Connected,
		NotifyReceived: res.NotifyReceived,
		LargestPaysYou: res.LargestPaysYou,
		Time:           res.CheckedAt,
	}
}
