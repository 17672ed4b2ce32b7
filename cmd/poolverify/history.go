package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/urfave/cli"

	"github.com/bardlex/poolverify/internal/database"
	"github.com/bardlex/poolverify/internal/database/influx"
	"github.com/bardlex/poolverify/internal/database/postgres"
	"github.com/bardlex/poolverify/internal/database/redis"
	"github.com/bardlex/poolverify/internal/verify"
)

var historyCommand = cli.Command{
	Name:  "history",
	Usage: "show stored verification results, alerts and share trends",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "postgres-url", EnvVar: "POSTGRES_URL", Usage: " results database `URL`"},
		cli.StringFlag{Name: "redis-url", EnvVar: "REDIS_URL", Usage: " latest-result cache `URL`"},
		cli.StringFlag{Name: "influx-url", EnvVar: "INFLUX_URL", Usage: " metrics `URL`"},
		cli.StringFlag{Name: "influx-token", EnvVar: "INFLUX_TOKEN", Usage: " metrics `TOKEN`"},
		cli.StringFlag{Name: "influx-org", EnvVar: "INFLUX_ORG", Value: "poolverify", Usage: " metrics `ORG`"},
		cli.StringFlag{Name: "influx-bucket", EnvVar: "INFLUX_BUCKET", Value: "payouts", Usage: " metrics `BUCKET`"},
		cli.StringFlag{Name: "miner, m", Usage: " restrict to miner `NAME`"},
		cli.IntFlag{Name: "slot, s", Value: 1, Usage: " pool `SLOT` of --miner"},
		cli.IntFlag{Name: "limit, n", Value: 20, Usage: " list at most `COUNT` rows"},
		cli.DurationFlag{Name: "window, w", Value: 24 * time.Hour, Usage: " share trend `DURATION`"},
	},
	Action: runHistory,
}

// historyRow is one stored verification without its payload
type historyRow struct {
	Miner        string    `json:"miner"`
	Slot         int       `json:"slot"`
	Endpoint     string    `json:"endpoint"`
	Score        int       `json:"score"`
	Label        string    `json:"label"`
	YourSharePct float64   `json:"your_share_pct"`
	Summary      string    `json:"summary"`
	CheckedAt    time.Time `json:"checked_at"`
}

type historyReport struct {
	Latest       json.RawMessage     `json:"latest,omitempty"`
	Cached       json.RawMessage     `json:"cached,omitempty"`
	Recent       []historyRow        `json:"recent,omitempty"`
	Alerts       []*postgres.Alert   `json:"alerts,omitempty"`
	LabelsToday  map[string]int64    `json:"labels_today,omitempty"`
	ShareHistory []influx.SharePoint `json:"share_history,omitempty"`
}

// historyStores enables every store named on the command line
func historyStores(c *cli.Context) *database.Config {
	cfg := &database.Config{}
	if url := c.String("postgres-url"); url != "" {
		cfg.Postgres = postgres.DefaultConfig(url)
		cfg.Postgres.MaxOpenConns = 2
	}
	if url := c.String("redis-url"); url != "" {
		cfg.Redis = &redis.Config{URL: url, PoolSize: 2, MaxRetries: 1, DialTimeout: 5 * time.Second}
	}
	if url, token := c.String("influx-url"), c.String("influx-token"); url != "" && token != "" {
		cfg.Influx = &influx.Config{URL: url, Token: token, Org: c.String("influx-org"), Bucket: c.String("influx-bucket")}
	}
	return cfg
}

func runHistory(c *cli.Context) error {
	stores := historyStores(c)
	if stores.Postgres == nil && stores.Redis == nil && stores.Influx == nil {
		return usageError("history needs --postgres-url, --redis-url or --influx-url with --influx-token")
	}
	miner := c.String("miner")
	if stores.Influx != nil && miner == "" {
		return usageError("share trends need --miner")
	}

	logger := newLogger(c)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	manager, err := database.NewManager(ctx, stores, logger)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("failed to open stores: %v", err), exitUsage)
	}
	defer func() {
		if err := manager.Close(); err != nil {
			logger.WithError(err).Warn("failed to close stores")
		}
	}()

	report, err := buildHistory(ctx, manager, miner, c.Int("slot"), c.Int("limit"), c.Duration("window"))
	if err != nil {
		return cli.NewExitError(err.Error(), exitUsage)
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("failed to encode report: %v", err), exitUsage)
	}
	fmt.Fprintln(c.App.Writer, string(out))
	return nil
}

func buildHistory(ctx context.Context, m *database.Manager, miner string, slot, limit int, window time.Duration) (*historyReport, error) {
	report := &historyReport{}

	if m.Postgres != nil {
		if miner != "" {
			rec, err := m.Results.GetLatestResult(ctx, miner, slot)
			switch {
			case stderrors.Is(err, postgres.ErrNotFound):
			case err != nil:
				return nil, err
			default:
				report.Latest = rec.Payload
			}
		} else {
			recs, err := m.Results.GetRecentResults(ctx, limit, 0)
			if err != nil {
				return nil, err
			}
			for _, rec := range recs {
				report.Recent = append(report.Recent, newHistoryRow(rec))
			}
		}

		alerts, err := m.Alerts.GetRecentAlerts(ctx, limit)
		if err != nil {
			return nil, err
		}
		report.Alerts = alerts
	}

	if m.Redis != nil {
		if miner != "" {
			var cached json.RawMessage
			err := m.Redis.GetLatestResult(ctx, miner, slot, &cached)
			if err != nil && !stderrors.Is(err, redis.ErrNotFound) {
				return nil, err
			}
			report.Cached = cached
		}

		report.LabelsToday = make(map[string]int64)
		for _, label := range []verify.Label{verify.LabelLow, verify.LabelMedium, verify.LabelHigh} {
			n, err := m.Redis.GetCounter(ctx, redis.LabelCounterKey(string(label), time.Now()))
			if err != nil {
				return nil, err
			}
			report.LabelsToday[string(label)] = n
		}
	}

	if m.Influx != nil {
		points, err := m.Influx.GetShareHistory(ctx, miner, slot, window)
		if err != nil {
			return nil, err
		}
		report.ShareHistory = points
	}

	return report, nil
}

func newHistoryRow(rec *postgres.VerificationRecord) historyRow {
	return historyRow{
		Miner:        rec.Miner,
		Slot:         rec.Slot,
		Endpoint:     rec.Endpoint,
		Score:        rec.Score,
		Label:        rec.Label,
		YourSharePct: rec.YourSharePct,
		Summary:      rec.Summary,
		CheckedAt:    rec.CheckedAt,
	}
}
