package database

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bardlex/poolverify/internal/database/postgres"
	"github.com/bardlex/poolverify/internal/verify"
)

func sampleResult() *verify.Result {
	res := &verify.Result{
		OK:               true,
		Endpoint:         "tls://pool.example.com:4443",
		Host:             "pool.example.com",
		Port:             4443,
		Transport:        "tls",
		ResolvedIP:       "203.0.113.7",
		Connected:        true,
		AuthOK:           true,
		NotifyReceived:   true,
		CoinbaseParsed:   true,
		CoinbaseTxID:     "ab12",
		RecipientAddress: "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa",
		RecipientValid:   true,
		Outputs:          []verify.OutputView{{Index: 0, ValueSats: 100, SharePct: 100, IsYou: true}},
		YourShare:        1,
		YourSharePct:     100,
		LargestPaysYou:   true,
		LatencyMs:        87,
		CheckedAt:        time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC),
	}
	res.Risk = verify.Assess(res, verify.DefaultMinShare)
	return res
}

func TestNewVerificationRecord(t *testing.T) {
	res := sampleResult()
	rec, err := NewVerificationRecord("rack1-s19", 2, res)
	if err != nil {
		t.Fatalf("NewVerificationRecord() error: %v", err)
	}

	if rec.Miner != "rack1-s19" || rec.Slot != 2 || rec.Endpoint != res.Endpoint {
		t.Errorf("identity = %s/%d/%s", rec.Miner, rec.Slot, rec.Endpoint)
	}
	if rec.Score != res.Risk.Score || rec.Label != "LOW" || rec.Summary != res.Risk.Summary {
		t.Errorf("risk = %d %s %q", rec.Score, rec.Label, rec.Summary)
	}
	if !rec.CheckedAt.Equal(res.CheckedAt) || rec.YourSharePct != 100 {
		t.Errorf("CheckedAt = %v, YourSharePct = %v", rec.CheckedAt, rec.YourSharePct)
	}

	var decoded verify.Result
	if err := json.Unmarshal(rec.Payload, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.CoinbaseTxID != "ab12" || decoded.Risk.Label != verify.LabelLow || len(decoded.Outputs) != 1 {
		t.Errorf("payload = %+v", decoded)
	}
}

func TestNewVerificationMetric(t *testing.T) {
	res := sampleResult()
	m := NewVerificationMetric("rack1-s19", 1, res)

	if m.Host != "pool.example.com" || m.Transport != "tls" || m.Label != "LOW" {
		t.Errorf("tags = %+v", m)
	}
	if m.Outputs != 1 || m.LatencyMs != 87 || !m.LargestPaysYou || !m.Time.Equal(res.CheckedAt) {
		t.Errorf("fields = %+v", m)
	}
}

func TestManager_NoStoresConfigured(t *testing.T) {
	m, err := NewManager(context.Background(), &Config{}, nil)
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}
	defer func() {
		if err := m.Close(); err != nil {
			t.Errorf("Close() error: %v", err)
		}
	}()

	ctx := context.Background()
	if err := m.Health(ctx); err != nil {
		t.Errorf("Health() error: %v", err)
	}
	if err := m.RecordVerification(ctx, "m", 1, sampleResult()); err != nil {
		t.Errorf("RecordVerification() error: %v", err)
	}
	if err := m.RecordAlert(ctx, &postgres.Alert{Miner: "m", Slot: 1}); err != nil {
		t.Errorf("RecordAlert() error: %v", err)
	}
}
