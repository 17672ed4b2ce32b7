package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// ResultRepository handles verification history
type ResultRepository struct {
	db *sql.DB
}

// NewResultRepository creates a new result repository
func NewResultRepository(db *sql.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// CreateResult stores a verification and sets its ID
func (r *ResultRepository) CreateResult(ctx context.Context, rec *VerificationRecord) error {
	query := `
		INSERT INTO verification_results (miner, slot, endpoint, resolved_ip, connected, auth_ok,
		                                  notify_received, coinbase_parsed, coinbase_txid, recipient_address,
		                                  your_share_pct, largest_pays_you, score, label, summary, payload, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		rec.Miner, rec.Slot, rec.Endpoint, rec.ResolvedIP, rec.Connected, rec.AuthOK,
		rec.NotifyReceived, rec.CoinbaseParsed, rec.CoinbaseTxID, rec.RecipientAddress,
		rec.YourSharePct, rec.LargestPaysYou, rec.Score, rec.Label, rec.Summary, rec.Payload, rec.CheckedAt,
	).Scan(&rec.ID)

	if err != nil {
		return fmt.Errorf("failed to create verification result: %w", err)
	}

	return nil
}

const resultColumns = `id, miner, slot, endpoint, resolved_ip, connected, auth_ok, notify_received,
		       coinbase_parsed, coinbase_txid, recipient_address, your_share_pct, largest_pays_you,
		       score, label, summary, payload, checked_at`

func scanResult(row interface{ Scan(...any) error }) (*VerificationRecord, error) {
	rec := &VerificationRecord{}
	err := row.Scan(
		&rec.ID, &rec.Miner, &rec.Slot, &rec.Endpoint, &rec.ResolvedIP, &rec.Connected, &rec.AuthOK,
		&rec.NotifyReceived, &rec.CoinbaseParsed, &rec.CoinbaseTxID, &rec.RecipientAddress,
		&rec.YourSharePct, &rec.LargestPaysYou, &rec.Score, &rec.Label, &rec.Summary, &rec.Payload, &rec.CheckedAt,
	)
	return rec, err
}

// GetLatestResult returns the newest verification for a pool slot
func (r *ResultRepository) GetLatestResult(ctx context.Context, miner string, slot int) (*VerificationRecord, error) {
	query := `SELECT ` + resultColumns + `
		FROM verification_results
		WHERE miner = $1 AND slot = $2
		ORDER BY checked_at DESC
		LIMIT 1`

	rec, err := scanResult(r.db.QueryRowContext(ctx, query, miner, slot))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest result: %w", err)
	}

	return rec, nil
}

// GetRecentResults lists verifications newest first
func (r *ResultRepository) GetRecentResults(ctx context.Context, limit, offset int) ([]*VerificationRecord, error) {
	query := `SELECT ` + resultColumns + `
		FROM verification_results
		ORDER BY checked_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*VerificationRecord
	for rows.Next() {
		rec, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	return results, nil
}

// PruneResults deletes verifications older than the retention period
func (r *ResultRepository) PruneResults(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM verification_results WHERE checked_at < $1`,
		time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to prune results: %w", err)
	}
	return res.RowsAffected()
}

// AlertRepository handles raised alerts
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// CreateAlert stores an alert and sets its ID
func (r *AlertRepository) CreateAlert(ctx context.Context, alert *Alert) error {
	query := `
		INSERT INTO alerts (miner, slot, kind, label, score, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}
	err := r.db.QueryRowContext(ctx, query,
		alert.Miner, alert.Slot, alert.Kind, alert.Label, alert.Score, alert.Message, alert.CreatedAt,
	).Scan(&alert.ID)

	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}

	return nil
}

// GetRecentAlerts lists alerts newest first
func (r *AlertRepository) GetRecentAlerts(ctx context.Context, limit int) ([]*Alert, error) {
	query := `
		SELECT id, miner, slot, kind, label, score, message, created_at
		FROM alerts
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []*Alert
	for rows.Next() {
		a := &Alert{}
		if err := rows.Scan(&a.ID, &a.Miner, &a.Slot, &a.Kind, &a.Label, &a.Score, &a.Message, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}

	return alerts, nil
}
