package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bardlex/poolverify/internal/database/postgres"
	"github.com/bardlex/poolverify/internal/stratumtest"
)

const (
	addrX = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
	addrY = "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := newApp(&stdout, &stderr)
	code := run(app, append([]string{"poolverify"}, args...), &stderr)
	return code, stdout.String(), stderr.String()
}

func startPool(t *testing.T) string {
	t.Helper()
	job, _, err := stratumtest.Coinbase{
		Height:          840000,
		Extranonce1:     "f000000f",
		Extranonce2Size: 4,
		Payouts: []stratumtest.Payout{
			{Address: addrY, Value: 3125000},
			{Address: addrX, Value: 309375000},
		},
	}.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	srv, err := stratumtest.NewServer(stratumtest.Behavior{Extranonce1: "f000000f", Extranonce2Size: 4, Job: job})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(srv.Close)
	return strconv.Itoa(srv.Endpoint().Port)
}

func TestRun_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing url", []string{"--user", addrX}, "--url is required"},
		{"missing user", []string{"--url", "pool.example.com:3333"}, "--user is required"},
		{"min share too high", []string{"--url", "pool.example.com:3333", "--user", addrX, "--min-share", "1.5"}, "--min-share"},
		{"min share zero", []string{"--url", "pool.example.com:3333", "--user", addrX, "--min-share", "0"}, "--min-share"},
		{"bad scheme", []string{"--url", "http://pool.example.com:3333", "--user", addrX}, "invalid pool url"},
		{"no port", []string{"--url", "pool.example.com", "--user", addrX}, "invalid pool url"},
		{"stray argument", []string{"--url", "pool.example.com:3333", "--user", addrX, "extra"}, "unexpected arguments"},
		{"unknown flag", []string{"--bogus"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := runCLI(t, tt.args...)
			if code != exitUsage {
				t.Errorf("exit code = %d, want %d", code, exitUsage)
			}
			if strings.Contains(stdout, "\"risk\"") {
				t.Errorf("usage error printed a result: %s", stdout)
			}
			if tt.want != "" && !strings.Contains(stderr, tt.want) {
				t.Errorf("stderr = %q, want it to mention %q", stderr, tt.want)
			}
		})
	}
}

func TestRun_PoolPaysRecipient(t *testing.T) {
	port := startPool(t)

	code, stdout, stderr := runCLI(t, "--url", "stratum+tcp://127.0.0.1", "--port", port,
		"--user", addrX+".rig01", "--timeout", "2s")
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr)
	}

	var res struct {
		OK               bool    `json:"ok"`
		RecipientAddress string  `json:"recipient_address"`
		YourSharePct     float64 `json:"your_share_pct"`
		LargestPaysYou   bool    `json:"largest_pays_you"`
		Risk             struct {
			Label string `json:"label"`
		} `json:"risk"`
	}
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatalf("stdout is not a JSON result: %v\n%s", err, stdout)
	}
	if !res.OK || res.RecipientAddress != addrX || !res.LargestPaysYou {
		t.Errorf("result = %+v", res)
	}
	if math.Abs(res.YourSharePct-99) > 1e-9 {
		t.Errorf("your_share_pct = %v, want 99", res.YourSharePct)
	}
	if res.Risk.Label != "LOW" {
		t.Errorf("risk label = %s, want LOW", res.Risk.Label)
	}
}

func TestRun_HighRiskExitStatus(t *testing.T) {
	port := startPool(t)

	code, stdout, _ := runCLI(t, "--url", "127.0.0.1", "--port", port, "--user", addrY+".rig01")
	if code != exitHighRisk {
		t.Errorf("exit code = %d, want %d", code, exitHighRisk)
	}
	if !strings.Contains(stdout, `"label": "HIGH"`) {
		t.Errorf("stdout does not report HIGH:\n%s", stdout)
	}
}

func TestRun_RecipientOverride(t *testing.T) {
	port := startPool(t)

	code, stdout, _ := runCLI(t, "--url", "127.0.0.1:"+port, "--user", "worker1", "--recipient", addrX)
	if code != exitOK {
		t.Errorf("exit code = %d, want %d", code, exitOK)
	}
	if !strings.Contains(stdout, addrX) {
		t.Errorf("stdout does not mention the recipient:\n%s", stdout)
	}
}

func TestRun_TailRequiresBrokers(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")

	code, _, stderr := runCLI(t, "tail")
	if code != exitUsage {
		t.Errorf("exit code = %d, want %d", code, exitUsage)
	}
	if !strings.Contains(stderr, "--brokers is required") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestEventPrinter(t *testing.T) {
	event, err := structpb.NewStruct(map[string]any{
		"miner": "rig-01",
		"slot":  1,
		"risk":  map[string]any{"label": "HIGH", "score": 90},
	})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := newEventPrinter(&buf).HandleMessage(context.Background(), "rig-01/1", event); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	line := buf.String()
	fields := strings.SplitN(strings.TrimSpace(line), " ", 3)
	if len(fields) != 3 {
		t.Fatalf("line = %q, want timestamp, key and event", line)
	}
	if fields[1] != "rig-01/1" {
		t.Errorf("key = %q", fields[1])
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(fields[2]), &decoded); err != nil {
		t.Fatalf("event is not JSON: %v", err)
	}
	if decoded["miner"] != "rig-01" {
		t.Errorf("miner = %v", decoded["miner"])
	}
}

func TestHistory_UsageErrors(t *testing.T) {
	for _, key := range []string{"POSTGRES_URL", "REDIS_URL", "INFLUX_URL", "INFLUX_TOKEN"} {
		t.Setenv(key, "")
	}

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no store", []string{"history"}, "history needs"},
		{"influx without token", []string{"history", "--influx-url", "http://localhost:8086"}, "history needs"},
		{"trend without miner", []string{"history", "--influx-url", "http://localhost:8086", "--influx-token", "t"}, "need --miner"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, tt.args...)
			if code != exitUsage {
				t.Errorf("exit code = %d, want %d", code, exitUsage)
			}
			if !strings.Contains(stderr, tt.want) {
				t.Errorf("stderr = %q, want it to mention %q", stderr, tt.want)
			}
		})
	}
}

func TestNewHistoryRow(t *testing.T) {
	checked := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	row := newHistoryRow(&postgres.VerificationRecord{
		Miner:        "rig-01",
		Slot:         2,
		Endpoint:     "stratum+tcp://pool.example.com:3333",
		Score:        90,
		Label:        "HIGH",
		YourSharePct: 1,
		Payload:      []byte(`{"ok":true}`),
		CheckedAt:    checked,
	})

	data, err := json.Marshal(row)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "payload") {
		t.Errorf("history row leaked the payload: %s", data)
	}
	if row.Label != "HIGH" || row.Slot != 2 || !row.CheckedAt.Equal(checked) {
		t.Errorf("row = %+v", row)
	}
}
