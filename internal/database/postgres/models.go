package postgres

import (
	"time"
)

// VerificationRecord is one stored verification. Payload holds the full
// result as JSON; the other columns are the fields queries filter on.
type VerificationRecord struct {
	ID               int64     `db:"id"`
	Miner            string    `db:"miner"`
	Slot             int       `db:"slot"`
	Endpoint         string    `db:"endpoint"`
	ResolvedIP       string    `db:"resolved_ip"`
	Connected        bool      `db:"connected"`
	AuthOK           bool      `db:"auth_ok"`
	NotifyReceived   bool      `db:"notify_received"`
	CoinbaseParsed   bool      `db:"coinbase_parsed"`
	CoinbaseTxID     string    `db:"coinbase_txid"`
	RecipientAddress string    `db:"recipient_address"`
	YourSharePct     float64   `db:"your_share_pct"`
	LargestPaysYou   bool      `db:"largest_pays_you"`
	Score            int       `db:"score"`
	Label            string    `db:"label"`
	Summary          string    `db:"summary"`
	Payload          []byte    `db:"payload"`
	CheckedAt        time.Time `db:"checked_at"`
}

// Alert kinds
const (
	AlertHighRisk = "high_risk"
)

// Alert is a user-facing warning raised for a pool slot
type Alert struct {
	ID        int64     `db:"id" json:"id"`
	Miner     string    `db:"miner" json:"miner"`
	Slot      int       `db:"slot" json:"slot"`
	Kind      string    `db:"kind" json:"kind"`
	Label     string    `db:"label" json:"label"`
	Score     int       `db:"score" json:"score"`
	Message   string    `db:"message" json:"message"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
