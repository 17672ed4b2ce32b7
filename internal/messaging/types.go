package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bardlex/poolverify/internal/verify"
)

// AlertMessage is raised when a pool slot verifies as HIGH risk
type AlertMessage struct {
	Miner            string    `json:"miner"`
	Slot             int       `json:"slot"`
	Endpoint         string    `json:"endpoint"`
	Label            string    `json:"label"`
	Score            int       `json:"score"`
	Summary          string    `json:"summary"`
	RecipientAddress string    `json:"recipient_address,omitempty"`
	YourSharePct     float64   `json:"your_share_pct"`
	CoinbaseTxID     string    `json:"coinbase_txid,omitempty"`
	RaisedAt         time.Time `json:"raised_at"`
}

// NewAlertMessage builds the alert for res
func NewAlertMessage(miner string, slot int, res *verify.Result, raisedAt time.Time) *AlertMessage {
	return &AlertMessage{
		Miner:            miner,
		Slot:             slot,
		Endpoint:         res.Endpoint,
		Label:            string(res.Risk.Label),
		Score:            res.Risk.Score,
		Summary:          res.Risk.Summary,
		RecipientAddress: res.RecipientAddress,
		YourSharePct:     res.YourSharePct,
		CoinbaseTxID:     res.CoinbaseTxID,
		RaisedAt:         raisedAt,
	}
}

// MessageKey partitions events by pool slot
func MessageKey(miner string, slot int) string {
	return fmt.Sprintf("%s/%d", miner, slot)
}

// NewResultEvent converts res into a protobuf Struct carrying the same fields
// as its JSON form plus the miner and slot.
func NewResultEvent(miner string, slot int, res *verify.Result) (*structpb.Struct, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	fields["miner"] = miner
	fields["slot"] = slot

	return structpb.NewStruct(fields)
}
