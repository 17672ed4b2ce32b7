package stratum

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"net"
	"time"

	"github.com/bardlex/poolverify/pkg/errors"
	"github.com/bardlex/poolverify/pkg/log"
)

// Probe failures. They arrive wrapped in a ServiceError; test with errors.Is.
var (
	ErrConnection  = stderrors.New("stratum connection failed")
	ErrTimeout     = stderrors.New("timed out waiting for stratum response")
	ErrLineTooLong = stderrors.New("stratum line exceeds maximum length")
)

// DefaultClientVersion is sent as the second mining.subscribe param
const DefaultClientVersion = "1.0"

// Credential is the stratum login
type Credential struct {
	Username string
	Password string
}

// Config holds prober settings
type Config struct {
	ClientName    string
	ClientVersion string

	// StrictTLS turns certificate validation on. Pools commonly run with
	// self-signed certificates, so it is off by default.
	StrictTLS bool
}

// ProbeResult carries whatever facts the probe established. It is returned
// alongside a failure too, so a timeout after connecting still reports
// Connected.
type ProbeResult struct {
	Connected       bool
	Subscribed      bool
	Extranonce1     string
	Extranonce2Size int
	AuthResponded   bool
	AuthOK          bool
	AuthError       string
	Job             *JobTemplate
	RemoteAddr      string
	Latency         time.Duration
	FinalState      State
}

// NotifyReceived reports whether a job template was obtained
func (r *ProbeResult) NotifyReceived() bool {
	return r != nil && r.Job != nil
}

// Prober opens one connection per Probe call. It holds only immutable
// configuration; all per-probe state lives in the session the call creates.
type Prober struct {
	config Config
	logger *log.Logger
}

// NewProber creates a prober
func NewProber(config Config, logger *log.Logger) *Prober {
	if config.ClientName == "" {
		config.ClientName = "poolverify"
	}
	if config.ClientVersion == "" {
		config.ClientVersion = DefaultClientVersion
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Prober{config: config, logger: logger.WithComponent("prober")}
}

// Probe connects to ep, subscribes, authorizes and waits for the first job.
// Every wait is bounded by timeout, measured from the start of the call.
func (p *Prober) Probe(ctx context.Context, ep Endpoint, cred Credential, timeout time.Duration) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s := newSession(ep, p.logger.WithPool(ep.Host, ep.Port, cred.Username))

	conn, err := p.dial(ctx, ep)
	if err != nil {
		return s.fail(errors.Wrap(fmt.Errorf("%w: %w", ErrConnection, err), errors.ErrorTypeProtocol, "stratum_connect",
			"failed to connect to "+ep.String()).
			WithContext("endpoint", ep.String()))
	}
	defer func() {
		if err := conn.Close(); err != nil && !stderrors.Is(err, net.ErrClosed) {
			s.logger.Debug("failed to close connection", "error", err)
		}
	}()

	// a deadline or cancel closes the socket, which unblocks the reader
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := s.start(ctx, conn, p.config, cred); err != nil {
		return s.fail(err)
	}
	if err := s.awaitSubscribe(ctx); err != nil {
		return s.fail(err)
	}
	if err := s.awaitAuthorize(ctx); err != nil {
		return s.fail(err)
	}
	if err := s.awaitNotify(ctx); err != nil {
		return s.fail(err)
	}

	s.transition(StateDone)
	s.result.Latency = time.Since(s.began)
	return s.result, nil
}

func (p *Prober) dial(ctx context.Context, ep Endpoint) (net.Conn, error) {
	dialer := &net.Dialer{}
	if ep.Transport != TLS {
		return dialer.DialContext(ctx, "tcp", ep.Address())
	}

	tlsDialer := &tls.Dialer{
		NetDialer: dialer,
		Config: &tls.Config{
			ServerName:         ep.Host,
			InsecureSkipVerify: !p.config.StrictTLS, //nolint:gosec // reachability probe, see Config.StrictTLS
			MinVersion:         tls.VersionTLS12,
		},
	}
	return tlsDialer.DialContext(ctx, "tcp", ep.Address())
}
