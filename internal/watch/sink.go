package watch

import (
	"context"

	"github.com/bardlex/poolverify/internal/database"
	"github.com/bardlex/poolverify/internal/database/postgres"
	"github.com/bardlex/poolverify/internal/messaging"
	"github.com/bardlex/poolverify/internal/verify"
)

// Sink receives every verification result and every raised alert
type Sink interface {
	Name() string
	RecordResult(ctx context.Context, miner string, slot int, res *verify.Result) error
	RaiseAlert(ctx context.Context, alert *messaging.AlertMessage) error
}

// Compile-time interface compliance checks
var (
	_ Sink = (*DatabaseSink)(nil)
	_ Sink = (*KafkaSink)(nil)
)

// DatabaseSink stores results and alerts through the database manager
type DatabaseSink struct {
	manager *database.Manager
}

// NewDatabaseSink wraps m
func NewDatabaseSink(m *database.Manager) *DatabaseSink {
	return &DatabaseSink{manager: m}
}

// Name identifies the sink in logs
func (s *DatabaseSink) Name() string { return "database" }

// RecordResult stores res
func (s *DatabaseSink) RecordResult(ctx context.Context, miner string, slot int, res *verify.Result) error {
	return s.manager.RecordVerification(ctx, miner, slot, res)
}

// RaiseAlert stores an alerts row
func (s *DatabaseSink) RaiseAlert(ctx context.Context, alert *messaging.AlertMessage) error {
	return s.manager.RecordAlert(ctx, &postgres.Alert{
		Miner:     alert.Miner,
		Slot:      alert.Slot,
		Kind:      postgres.AlertHighRisk,
		Label:     alert.Label,
		Score:     alert.Score,
		Message:   alert.Summary,
		CreatedAt: alert.RaisedAt,
	})
}

// KafkaSink publishes result events and alerts
type KafkaSink struct {
	client *messaging.KafkaClient
}

// NewKafkaSink wraps c
func NewKafkaSink(c *messaging.KafkaClient) *KafkaSink {
	return &KafkaSink{client: c}
}

// Name identifies the sink in logs
func (s *KafkaSink) Name() string { return "kafka" }

// RecordResult publishes a result event
func (s *KafkaSink) RecordResult(ctx context.Context, miner string, slot int, res *verify.Result) error {
	return s.client.PublishResult(ctx, miner, slot, res)
}

// RaiseAlert publishes alert
func (s *KafkaSink) RaiseAlert(ctx context.Context, alert *messaging.AlertMessage) error {
	return s.client.PublishAlert(ctx, alert)
}
