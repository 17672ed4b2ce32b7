// Package influx provides the InfluxDB client for verification time series.
package influx

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementVerification is the measurement every verification is written to
const MeasurementVerification = "pool_verification"

// Client wraps InfluxDB operations for time-series metrics
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	queryAPI api.QueryAPI
	bucket   string
	org      string
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewClient creates a new InfluxDB client
func NewClient(cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to check InfluxDB health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		client.Close()
		return nil, fmt.Errorf("InfluxDB health check failed: %s", msg)
	}

	return &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}, nil
}

// Close flushes pending points and closes the connection
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("health check failed: %s", msg)
	}

	return nil
}

// Errors returns asynchronous write failures
func (c *Client) Errors() <-chan error {
	return c.writeAPI.Errors()
}

// VerificationMetric is what a verification contributes to the time series
type VerificationMetric struct {
	Miner          string
	Slot           int
	Host           string
	Transport      string
	Label          string
	Score          int
	SharePct       float64
	LatencyMs      int64
	Outputs        int
	Connected      bool
	NotifyReceived bool
	LargestPaysYou bool
	Time           time.Time
}

// NewVerificationPoint converts m into a line-protocol point
func NewVerificationPoint(m VerificationMetric) *write.Point {
	tags := map[string]string{
		"miner":     m.Miner,
		"slot":      strconv.Itoa(m.Slot),
		"host":      m.Host,
		"transport": m.Transport,
		"label":     m.Label,
	}

	fields := map[string]interface{}{
		"score":            int64(m.Score),
		"share_pct":        m.SharePct,
		"latency_ms":       m.LatencyMs,
		"outputs":          int64(m.Outputs),
		"connected":        m.Connected,
		"notify_received":  m.NotifyReceived,
		"largest_pays_you": m.LargestPaysYou,
	}

	ts := m.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(MeasurementVerification, tags, fields, ts)
}

// WriteVerification queues a verification point; it is sent asynchronously
func (c *Client) WriteVerification(m VerificationMetric) {
	c.writeAPI.WritePoint(NewVerificationPoint(m))
}

// SharePoint is the recipient share at a point in time
type SharePoint struct {
	Time     time.Time `json:"time"`
	SharePct float64   `json:"share_pct"`
}

func shareHistoryQuery(bucket, miner string, slot int, duration time.Duration) string {
	return fmt.Sprintf(`
		from(bucket: %q)
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == %q)
		|> filter(fn: (r) => r.miner == %q)
		|> filter(fn: (r) => r.slot == "%d")
		|> filter(fn: (r) => r._field == "share_pct")
		|> aggregateWindow(every: 1h, fn: min, createEmpty: false)
	`, bucket, duration.String(), MeasurementVerification, miner, slot)
}

// GetShareHistory returns the hourly minimum recipient share for a pool slot
func (c *Client) GetShareHistory(ctx context.Context, miner string, slot int, duration time.Duration) ([]SharePoint, error) {
	result, err := c.queryAPI.Query(ctx, shareHistoryQuery(c.bucket, miner, slot, duration))
	if err != nil {
		return nil, fmt.Errorf("failed to query share history: %w", err)
	}
	defer func() { _ = result.Close() }()

	var points []SharePoint
	for result.Next() {
		record := result.Record()
		if value, ok := record.Value().(float64); ok {
			points = append(points, SharePoint{Time: record.Time(), SharePct: value})
		}
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("error reading query result: %w", result.Err())
	}

	return points, nil
}

// Flush forces a write of all pending points
func (c *Client) Flush() {
	c.writeAPI.Flush()
}
