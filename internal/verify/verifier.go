// Package verify confirms from a live stratum job template whether a pool pays
// a given recipient, and scores the outcome.
package verify

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/bardlex/poolverify/internal/bitcoin"
	"github.com/bardlex/poolverify/internal/stratum"
	"github.com/bardlex/poolverify/pkg/errors"
	"github.com/bardlex/poolverify/pkg/log"
)

// Defaults applied when neither the request nor the config sets a value
const (
	DefaultMinShare = 0.98
	DefaultTimeout  = 4 * time.Second
)

// Prober runs one stratum conversation
type Prober interface {
	Probe(ctx context.Context, ep stratum.Endpoint, cred stratum.Credential, timeout time.Duration) (*stratum.ProbeResult, error)
}

// Resolver looks up the address a pool host resolves to
type Resolver interface {
	Resolve(ctx context.Context, host string) (string, error)
}

// Compile-time interface compliance checks
var (
	_ Prober   = (*stratum.Prober)(nil)
	_ Resolver = (*DNSResolver)(nil)
)

// Config holds verifier policy
type Config struct {
	MinShare float64
	Timeout  time.Duration
	// Network renders output addresses when the recipient does not imply one
	Network *bitcoin.Network
}

// Request is one pool slot to verify
type Request struct {
	Endpoint stratum.Endpoint
	Username string
	Password string
	// Recipient overrides the address derived from Username
	Recipient string
	// MinShare and Timeout override the verifier config when non-zero
	MinShare float64
	Timeout  time.Duration
}

// OutputView is a coinbase output as shown in a result
type OutputView struct {
	Index      int                `json:"index"`
	ValueSats  uint64             `json:"value_sats"`
	SharePct   float64            `json:"share_pct"`
	Address    string             `json:"address,omitempty"`
	ScriptType bitcoin.ScriptType `json:"script_type"`
	IsYou      bool               `json:"is_you"`
}

// Result is the flat record produced for every verification
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`

	Endpoint   string `json:"endpoint"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Transport  string `json:"transport"`
	ResolvedIP string `json:"resolved_ip,omitempty"`
	RemoteAddr string `json:"remote_addr,omitempty"`

	Connected       bool   `json:"connected"`
	Subscribed      bool   `json:"subscribed"`
	AuthResponded   bool   `json:"auth_responded"`
	AuthOK          bool   `json:"auth_ok"`
	AuthError       string `json:"auth_error,omitempty"`
	NotifyReceived  bool   `json:"notify_received"`
	LatencyMs       int64  `json:"latency_ms"`
	Extranonce1     string `json:"extranonce1,omitempty"`
	Extranonce2Size int    `json:"extranonce2_size"`
	JobID           string `json:"job_id,omitempty"`
	NBits           string `json:"nbits,omitempty"`
	NTime           string `json:"ntime,omitempty"`

	CoinbaseParsed bool   `json:"coinbase_parsed"`
	CoinbaseTxID   string `json:"coinbase_txid,omitempty"`
	CoinbaseError  string `json:"coinbase_error,omitempty"`
	PoolTag        string `json:"pool_tag,omitempty"`
	CoinbaseHeight int64  `json:"coinbase_height,omitempty"`
	ChainHeight    int64  `json:"chain_height,omitempty"`

	RecipientAddress string             `json:"recipient_address,omitempty"`
	RecipientValid   bool               `json:"recipient_valid"`
	RecipientType    bitcoin.ScriptType `json:"recipient_type,omitempty"`

	// Outputs are sorted by value, largest first; Index keeps the
	// serialized position.
	Outputs        []OutputView `json:"outputs"`
	TotalSats      uint64       `json:"total_sats"`
	YourShare      float64      `json:"your_share"`
	YourSharePct   float64      `json:"your_share_pct"`
	LargestPaysYou bool         `json:"largest_pays_you"`

	Risk      RiskReport `json:"risk"`
	CheckedAt time.Time  `json:"checked_at"`
}

// StaleTemplate reports whether the template builds on a block other than the
// node's tip. It is false when either height is unknown.
func (r *Result) StaleTemplate() bool {
	return r.CoinbaseHeight > 0 && r.ChainHeight > 0 && r.CoinbaseHeight != r.ChainHeight+1
}

// Verifier runs verifications. It keeps no state between calls, so one
// instance can serve concurrent Verify calls.
type Verifier struct {
	config   Config
	prober   Prober
	resolver Resolver
	chain    bitcoin.ChainTip
	logger   *log.Logger
	now      func() time.Time
}

// Option configures optional collaborators
type Option func(*Verifier)

// WithResolver enables the DNS lookup step
func WithResolver(r Resolver) Option {
	return func(v *Verifier) { v.resolver = r }
}

// WithChainTip annotates results with the local node height
func WithChainTip(c bitcoin.ChainTip) Option {
	return func(v *Verifier) { v.chain = c }
}

// NewVerifier creates a verifier
func NewVerifier(config Config, prober Prober, logger *log.Logger, opts ...Option) *Verifier {
	if config.MinShare <= 0 {
		config.MinShare = DefaultMinShare
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Network == nil {
		config.Network = bitcoin.MainNet
	}
	if logger == nil {
		logger = log.Discard()
	}

	v := &Verifier{
		config: config,
		prober: prober,
		logger: logger.WithComponent("verifier"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify probes the pool in req and reports whether its job template pays the
// recipient. It never fails: every problem is folded into the result.
func (v *Verifier) Verify(ctx context.Context, req Request) (res *Result) {
	minShare := req.MinShare
	if minShare <= 0 {
		minShare = v.config.MinShare
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = v.config.Timeout
	}

	ep := req.Endpoint
	logger := v.logger.WithPool(ep.Host, ep.Port, req.Username)
	res = &Result{
		Endpoint:  ep.String(),
		Host:      ep.Host,
		Port:      ep.Port,
		Transport: ep.Transport.String(),
		Outputs:   []OutputView{},
		CheckedAt: v.now().UTC(),
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Error("verification panicked", "panic", p)
			res.OK = false
			res.Message = fmt.Sprintf("internal error: %v", p)
		}
		res.Risk = Assess(res, minShare)
		logger.LogVerification(ep.Host, ep.Port, res.Risk.Score, string(res.Risk.Label), res.YourSharePct, res.LatencyMs)
	}()

	res.ResolvedIP = v.resolve(ctx, ep.Host, logger)

	recipient := ResolveRecipient(req.Username, req.Recipient)
	res.RecipientAddress = recipient.Address
	res.RecipientValid = recipient.Valid()
	res.RecipientType = recipient.Type

	probe, err := v.prober.Probe(ctx, ep, stratum.Credential{Username: req.Username, Password: req.Password}, timeout)
	copyProbeFacts(res, probe)
	if err != nil {
		res.Message = errors.Message(err)
		logger.WithError(err).Debug("probe failed")
		return res
	}
	res.OK = true

	network := v.config.Network
	if recipient.Valid() {
		network = recipient.Network
	}
	v.decodeCoinbase(res, probe, recipient, network)
	v.annotateChainHeight(ctx, res, logger)
	return res
}

func (v *Verifier) resolve(ctx context.Context, host string, logger *log.Logger) string {
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	if v.resolver == nil {
		return ""
	}
	ip, err := v.resolver.Resolve(ctx, host)
	if err != nil {
		logger.WithError(err).Debug("dns lookup failed")
		return ""
	}
	return ip
}

func copyProbeFacts(res *Result, probe *stratum.ProbeResult) {
	if probe == nil {
		return
	}
	res.Connected = probe.Connected
	res.RemoteAddr = probe.RemoteAddr
	res.Subscribed = probe.Subscribed
	res.AuthResponded = probe.AuthResponded
	res.AuthOK = probe.AuthOK
	res.AuthError = probe.AuthError
	res.Extranonce1 = probe.Extranonce1
	res.Extranonce2Size = probe.Extranonce2Size
	res.LatencyMs = probe.Latency.Milliseconds()
	res.NotifyReceived = probe.NotifyReceived()
	if probe.Job != nil {
		res.JobID = probe.Job.JobID
		res.NBits = probe.Job.NBits
		res.NTime = probe.Job.NTime
	}
}

// decodeCoinbase rebuilds the coinbase from the template and compares its
// outputs with the recipient. Failures only clear CoinbaseParsed.
func (v *Verifier) decodeCoinbase(res *Result, probe *stratum.ProbeResult, recipient Recipient, network *bitcoin.Network) {
	defer func() {
		if p := recover(); p != nil {
			res.CoinbaseParsed = false
			res.CoinbaseError = fmt.Sprintf("coinbase decode panicked: %v", p)
			res.Outputs = []OutputView{}
		}
	}()

	job := probe.Job
	raw, err := bitcoin.AssembleCoinbase(job.Coinb1, probe.Extranonce1, probe.Extranonce2Size, job.Coinb2)
	if err != nil {
		res.CoinbaseError = errors.Message(err)
		return
	}
	outputs, err := bitcoin.ParseOutputs(raw)
	if err != nil {
		res.CoinbaseError = errors.Message(err)
		return
	}

	res.CoinbaseParsed = true
	res.CoinbaseTxID = bitcoin.TxID(raw)
	res.PoolTag = bitcoin.ExtractCoinbaseTag(raw)
	if height, ok := bitcoin.CoinbaseHeight(raw); ok {
		res.CoinbaseHeight = height
	}

	summarizeOutputs(res, outputs, recipient, network)
}

func summarizeOutputs(res *Result, outputs []bitcoin.TxOutput, recipient Recipient, network *bitcoin.Network) {
	var total, yours uint64
	for _, o := range outputs {
		total += o.Value
	}

	views := make([]OutputView, 0, len(outputs))
	for _, o := range outputs {
		addr, _ := bitcoin.ScriptPubKeyToAddress(o.Script, network)
		isYou := recipient.Valid() && bytes.Equal(o.Script, recipient.Script)
		if isYou {
			yours += o.Value
		}
		views = append(views, OutputView{
			Index:      o.Index,
			ValueSats:  o.Value,
			SharePct:   ratio(o.Value, total) * 100,
			Address:    addr,
			ScriptType: bitcoin.ClassifyScript(o.Script),
			IsYou:      isYou,
		})
	}
	sort.SliceStable(views, func(i, j int) bool { return views[i].ValueSats > views[j].ValueSats })

	res.Outputs = views
	res.TotalSats = total
	res.YourShare = ratio(yours, total)
	res.YourSharePct = res.YourShare * 100
	res.LargestPaysYou = len(views) > 0 && views[0].IsYou
}

func ratio(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}

func (v *Verifier) annotateChainHeight(ctx context.Context, res *Result, logger *log.Logger) {
	if v.chain == nil || res.CoinbaseHeight == 0 {
		return
	}
	height, err := v.chain.GetBlockCount(ctx)
	if err != nil {
		logger.WithError(err).Debug("chain tip unavailable")
		return
	}
	res.ChainHeight = height
	if res.StaleTemplate() {
		logger.Warn("job template is not built on the node tip",
			"coinbase_height", res.CoinbaseHeight, "chain_height", height)
	}
}
