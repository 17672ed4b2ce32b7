package stratum

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"time"

	"github.com/bardlex/poolverify/pkg/errors"
	"github.com/bardlex/poolverify/pkg/log"
)

// State is a step of the probe conversation
type State int

// Probe states. Done and Failed are terminal.
const (
	StateConnecting State = iota
	StateConnected
	StateAwaitingSubscribe
	StateAwaitingAuthorize
	StateAwaitingNotify
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAwaitingSubscribe:
		return "awaiting_subscribe"
	case StateAwaitingAuthorize:
		return "awaiting_authorize"
	case StateAwaitingNotify:
		return "awaiting_notify"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// session is the state of a single probe: one socket, one dispatcher, one
// result. It is never shared between probes.
type session struct {
	endpoint Endpoint
	logger   *log.Logger
	began    time.Time

	state    State
	result   *ProbeResult
	dispatch *dispatcher

	subscribeCh <-chan *Message
	authorizeCh <-chan *Message
	notifyCh    <-chan *Message
}

func newSession(ep Endpoint, logger *log.Logger) *session {
	return &session{
		endpoint: ep,
		logger:   logger,
		began:    time.Now(),
		state:    StateConnecting,
		result:   &ProbeResult{},
	}
}

func (s *session) transition(to State) {
	s.logger.LogProbeState(s.state.String(), to.String())
	s.state = to
	s.result.FinalState = to
}

// fail moves to Failed and returns the facts gathered so far with err
func (s *session) fail(err error) (*ProbeResult, error) {
	s.transition(StateFailed)
	s.result.Latency = time.Since(s.began)
	s.logger.WithError(err).Debug("probe failed")
	return s.result, err
}

// start registers the waits, launches the reader and writes both requests
func (s *session) start(ctx context.Context, conn net.Conn, cfg Config, cred Credential) error {
	s.result.Connected = true
	s.result.RemoteAddr = conn.RemoteAddr().String()
	s.transition(StateConnected)
	s.logger.LogConnection("connected", s.result.RemoteAddr)

	s.dispatch = newDispatcher(s.logger)
	s.subscribeCh = s.dispatch.expectID(fmt.Sprint(SubscribeID))
	s.authorizeCh = s.dispatch.expectID(fmt.Sprint(AuthorizeID))
	s.notifyCh = s.dispatch.expectMethod(MethodNotify)
	go s.dispatch.run(conn)

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return s.connectionError("set_write_deadline", err)
		}
	}

	requests := []*Message{
		NewRequest(SubscribeID, MethodSubscribe, []any{cfg.ClientName, cfg.ClientVersion}),
		NewRequest(AuthorizeID, MethodAuthorize, []any{cred.Username, cred.Password}),
	}
	for _, req := range requests {
		data, err := MarshalMessage(req)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "stratum_write", "failed to encode "+req.Method)
		}
		if _, err := conn.Write(append(data, '\n')); err != nil {
			if ctx.Err() != nil {
				return s.timeoutError(req.Method)
			}
			return s.connectionError("stratum_write", err)
		}
		s.logger.LogStratumMessage("sent", string(data))
	}

	s.transition(StateAwaitingSubscribe)
	return nil
}

// await blocks until ch delivers, the reader stops or ctx ends
func (s *session) await(ctx context.Context, ch <-chan *Message, waitingFor string) (*Message, error) {
	select {
	case msg := <-ch:
		return msg, nil
	case <-ctx.Done():
		return nil, s.timeoutError(waitingFor)
	case <-s.dispatch.closed():
		// the pool may answer everything and hang up at once; the reader
		// queues the replies before closing, so drain them first
		select {
		case msg := <-ch:
			return msg, nil
		default:
		}
		// the deadline closes the socket too, so prefer reporting the timeout
		if ctx.Err() != nil {
			return nil, s.timeoutError(waitingFor)
		}
		if err := s.dispatch.cause(); stderrors.Is(err, ErrLineTooLong) {
			return nil, errors.Wrap(err, errors.ErrorTypeProtocol, "stratum_read", "pool sent an oversized line").
				WithContext("endpoint", s.endpoint.String())
		}
		return nil, s.connectionError("stratum_read",
			fmt.Errorf("connection closed by pool while waiting for %s", waitingFor))
	}
}

func (s *session) awaitSubscribe(ctx context.Context) error {
	msg, err := s.await(ctx, s.subscribeCh, MethodSubscribe)
	if err != nil {
		return err
	}

	s.result.Subscribed = msg.Error == nil
	en := ParseSubscribeResult(msg.Result)
	s.result.Extranonce1 = en.Extranonce1
	s.result.Extranonce2Size = en.Extranonce2Size

	s.transition(StateAwaitingAuthorize)
	return nil
}

func (s *session) awaitAuthorize(ctx context.Context) error {
	msg, err := s.await(ctx, s.authorizeCh, MethodAuthorize)
	if err != nil {
		return err
	}

	s.result.AuthResponded = true
	s.result.AuthOK = msg.Error == nil && Truthy(msg.Result)
	if msg.Error != nil {
		s.result.AuthError = msg.Error.Error()
	}

	s.transition(StateAwaitingNotify)
	return nil
}

func (s *session) awaitNotify(ctx context.Context) error {
	for {
		msg, err := s.await(ctx, s.notifyCh, MethodNotify)
		if err != nil {
			return err
		}
		job, err := ParseNotify(msg.Params)
		if err != nil {
			s.logger.WithError(err).Debug("ignoring malformed mining.notify")
			continue
		}
		s.result.Job = job
		return nil
	}
}

func (s *session) timeoutError(waitingFor string) error {
	return errors.Wrap(ErrTimeout, errors.ErrorTypeTimeout, "stratum_wait",
		"no "+waitingFor+" before the probe deadline").
		WithContext("endpoint", s.endpoint.String()).
		WithContext("state", s.state.String())
}

func (s *session) connectionError(op string, err error) error {
	return errors.Wrap(fmt.Errorf("%w: %w", ErrConnection, err), errors.ErrorTypeProtocol, op,
		"lost connection to "+s.endpoint.String()).
		WithContext("state", s.state.String())
}
