// Package watch re-verifies every pool slot in the miner inventory on a
// schedule and on new blocks, and fans results and alerts out to sinks.
package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bardlex/poolverify/internal/bitcoin"
	"github.com/bardlex/poolverify/internal/config"
	"github.com/bardlex/poolverify/internal/messaging"
	"github.com/bardlex/poolverify/internal/stratum"
	"github.com/bardlex/poolverify/internal/verify"
	"github.com/bardlex/poolverify/pkg/errors"
	"github.com/bardlex/poolverify/pkg/log"
)

// Round triggers
const (
	TriggerStartup  = "startup"
	TriggerInterval = "interval"
	TriggerBlock    = "block"
)

// Verifier checks one pool slot
type Verifier interface {
	Verify(ctx context.Context, req verify.Request) *verify.Result
}

var _ Verifier = (*verify.Verifier)(nil)

// Config holds scheduling settings
type Config struct {
	PollInterval        time.Duration
	MaxConcurrentProbes int
	// ProbesPerSecond paces probe starts across all workers; zero is unlimited
	ProbesPerSecond float64
}

// Job is one pool slot to verify
type Job struct {
	Miner   string
	Host    string
	Slot    int
	Request verify.Request
}

// RoundStats summarizes one round
type RoundStats struct {
	Trigger    string
	Jobs       int
	Skipped    int
	Verified   int
	High       int
	Alerts     int
	Suppressed int
	SinkErrors int
	Duration   time.Duration
}

type outcome struct {
	high       bool
	alerted    bool
	suppressed bool
	sinkErrors int
}

// Watcher runs verification rounds over an inventory
type Watcher struct {
	config    Config
	verifier  Verifier
	inventory *config.Inventory
	sinks     []Sink
	cooldown  *Cooldown
	limiter   *rate.Limiter
	notifier  bitcoin.BlockNotifier
	logger    *log.Logger
	now       func() time.Time

	// rounds never overlap
	roundMu sync.Mutex
}

// Option configures optional collaborators
type Option func(*Watcher)

// WithSinks adds result and alert sinks
func WithSinks(sinks ...Sink) Option {
	return func(w *Watcher) { w.sinks = append(w.sinks, sinks...) }
}

// WithCooldown replaces the default alert cooldown
func WithCooldown(c *Cooldown) Option {
	return func(w *Watcher) { w.cooldown = c }
}

// WithBlockNotifier starts an extra round on every new block
func WithBlockNotifier(n bitcoin.BlockNotifier) Option {
	return func(w *Watcher) { w.notifier = n }
}

// NewWatcher creates a watcher
func NewWatcher(cfg Config, verifier Verifier, inventory *config.Inventory, logger *log.Logger, opts ...Option) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Minute
	}
	if cfg.MaxConcurrentProbes <= 0 {
		cfg.MaxConcurrentProbes = 1
	}
	if logger == nil {
		logger = log.Discard()
	}

	limit := rate.Inf
	if cfg.ProbesPerSecond > 0 {
		limit = rate.Limit(cfg.ProbesPerSecond)
	}

	w := &Watcher{
		config:    cfg,
		verifier:  verifier,
		inventory: inventory,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger.WithComponent("watcher"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.cooldown == nil {
		w.cooldown = NewCooldown(time.Hour)
	}
	return w
}

// BuildJobs turns the inventory into one job per pool slot. Slots are
// numbered from 1. Slots whose URL cannot be parsed are returned as errors.
func BuildJobs(inv *config.Inventory) ([]Job, []error) {
	var jobs []Job
	var errs []error
	for _, m := range inv.Miners {
		for i, p := range m.Pools {
			slot := i + 1
			ep, err := stratum.ParseEndpoint(p.URL, p.Port)
			if err != nil {
				if se, ok := err.(*errors.ServiceError); ok {
					err = se.WithContext("miner", m.Name).WithContext("slot", slot)
				}
				errs = append(errs, err)
				continue
			}
			jobs = append(jobs, Job{
				Miner: m.Name,
				Host:  m.Host,
				Slot:  slot,
				Request: verify.Request{
					Endpoint:  ep,
					Username:  p.User,
					Password:  p.Password,
					Recipient: p.Recipient,
				},
			})
		}
	}
	return jobs, errs
}

// Run starts a round immediately, then on every poll interval and every block
// notification, until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	blocks := make(chan string, 1)
	if w.notifier != nil {
		if err := w.notifier.Connect(); err != nil {
			w.logger.WithError(err).Warn("block notifications unavailable, polling only")
		} else {
			go func() {
				err := w.notifier.Listen(ctx, func(hash string) {
					// coalesce bursts into a single pending round
					select {
					case blocks <- hash:
					default:
					}
				})
				if err != nil && ctx.Err() == nil {
					w.logger.WithError(err).Error("block listener stopped")
				}
			}()
		}
	}

	w.RunRound(ctx, TriggerStartup)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopping")
			return ctx.Err()
		case <-ticker.C:
			w.RunRound(ctx, TriggerInterval)
		case hash := <-blocks:
			w.logger.Info("new block, verifying pools", "hash", hash)
			w.RunRound(ctx, TriggerBlock)
		}
	}
}

// RunRound verifies every slot once on a bounded worker pool
func (w *Watcher) RunRound(ctx context.Context, trigger string) RoundStats {
	w.roundMu.Lock()
	defer w.roundMu.Unlock()

	start := time.Now()
	stats := RoundStats{Trigger: trigger}
	ctx = context.WithValue(ctx, log.RunIDKey, fmt.Sprintf("%s-%d", trigger, start.UnixNano()))
	roundLogger := w.logger.WithContext(ctx)

	jobs, errs := BuildJobs(w.inventory)
	for _, err := range errs {
		roundLogger.WithError(err).Warn("skipping pool slot")
	}
	stats.Jobs = len(jobs)
	stats.Skipped = len(errs)

	workers := w.config.MaxConcurrentProbes
	if workers > len(jobs) {
		workers = len(jobs)
	}

	jobCh := make(chan Job)
	outcomes := make(chan outcome, len(jobs))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				// Wait also fails early when the next token lies past the
				// deadline; keep draining so the feed loop never blocks
				if err := w.limiter.Wait(ctx); err != nil {
					continue
				}
				outcomes <- w.process(ctx, job)
			}
		}()
	}

feed:
	for _, job := range jobs {
		select {
		case jobCh <- job:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobCh)
	wg.Wait()
	close(outcomes)

	for o := range outcomes {
		stats.Verified++
		stats.SinkErrors += o.sinkErrors
		if o.high {
			stats.High++
		}
		if o.alerted {
			stats.Alerts++
		}
		if o.suppressed {
			stats.Suppressed++
		}
	}
	stats.Duration = time.Since(start)

	roundLogger.Info("verification round complete",
		"trigger", trigger,
		"jobs", stats.Jobs,
		"verified", stats.Verified,
		"high", stats.High,
		"alerts", stats.Alerts,
		"suppressed", stats.Suppressed,
		"sink_errors", stats.SinkErrors,
	)
	roundLogger.LogDuration("verification_round", stats.Duration.Nanoseconds())
	return stats
}

// process verifies one job and hands the result to every sink
func (w *Watcher) process(ctx context.Context, job Job) outcome {
	logger := w.logger.WithContext(ctx).WithMiner(job.Miner, job.Slot).WithFields("miner_host", job.Host)
	res := w.verifier.Verify(ctx, job.Request)

	var o outcome
	for _, s := range w.sinks {
		if err := s.RecordResult(ctx, job.Miner, job.Slot, res); err != nil {
			o.sinkErrors++
			logger.WithError(err).Error("failed to record result", "sink", s.Name())
		}
	}

	if res.Risk.Label != verify.LabelHigh {
		return o
	}
	o.high = true

	if !w.cooldown.Allow(job.Miner, job.Slot) {
		o.suppressed = true
		logger.Debug("alert suppressed by cooldown", "score", res.Risk.Score)
		return o
	}

	alert := messaging.NewAlertMessage(job.Miner, job.Slot, res, w.now().UTC())
	logger.Warn("high risk pool slot", "endpoint", res.Endpoint, "score", res.Risk.Score, "summary", res.Risk.Summary)
	for _, s := range w.sinks {
		if err := s.RaiseAlert(ctx, alert); err != nil {
			o.sinkErrors++
			logger.WithError(err).Error("failed to raise alert", "sink", s.Name())
		}
	}
	o.alerted = true
	return o
}
