package stratumtest

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/bardlex/poolverify/internal/stratum"
)

// Steps a fake pool can emit once it has read both requests
const (
	StepSubscribe     = "subscribe"
	StepAuthorize     = "authorize"
	StepSetDifficulty = "set_difficulty"
	StepNotify        = "notify"
	StepNoise         = "noise"
	StepOversized     = "oversized"
	StepHangUp        = "hangup"
)

// DefaultSteps is the conversation a well-behaved pool has
var DefaultSteps = []string{StepSubscribe, StepAuthorize, StepSetDifficulty, StepNotify}

// Behavior scripts a fake pool
type Behavior struct {
	Extranonce1     string
	Extranonce2Size int

	// AuthResult is the authorize result; nil means true
	AuthResult any
	// AuthError, when set, is sent instead of AuthResult
	AuthError *stratum.Error
	// RawAuthError is a JSON value sent verbatim as the authorize error,
	// next to a false result. It takes precedence over AuthError.
	RawAuthError string

	Job *stratum.JobTemplate

	// Greeting lines are written as soon as the connection is accepted
	Greeting []string
	// Steps run in order after both requests arrive; nil means DefaultSteps
	Steps []string
	// Delay is slept before every step
	Delay time.Duration

	TLS bool
}

// Server is a one-behavior stratum pool on 127.0.0.1
type Server struct {
	listener net.Listener
	behavior Behavior

	mu       sync.Mutex
	received []*stratum.Message

	wg     sync.WaitGroup
	closed chan struct{}
}

// NewServer starts listening on an ephemeral port
func NewServer(b Behavior) (*Server, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	if b.TLS {
		cert, err := selfSignedCert()
		if err != nil {
			_ = listener.Close()
			return nil, err
		}
		listener = tls.NewListener(listener, &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12})
	}

	s := &Server{listener: listener, behavior: b, closed: make(chan struct{})}
	s.wg.Add(1)
	go s.accept()
	return s, nil
}

// Endpoint is where the server listens
func (s *Server) Endpoint() stratum.Endpoint {
	addr := s.listener.Addr().(*net.TCPAddr)
	transport := stratum.TCP
	if s.behavior.TLS {
		transport = stratum.TLS
	}
	return stratum.Endpoint{Host: "127.0.0.1", Port: addr.Port, Transport: transport}
}

// Received returns the requests the pool has parsed so far
func (s *Server) Received() []*stratum.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*stratum.Message(nil), s.received...)
}

// Close stops accepting and waits for open connections to finish
func (s *Server) Close() {
	close(s.closed)
	_ = s.listener.Close()
	s.wg.Wait()
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() { _ = conn.Close() }()

	go func() {
		<-s.closed
		_ = conn.Close()
	}()

	w := bufio.NewWriter(conn)
	for _, line := range s.behavior.Greeting {
		s.writeLine(w, line)
	}

	scanner := bufio.NewScanner(conn)
	var subscribeID, authorizeID any
	for (subscribeID == nil || authorizeID == nil) && scanner.Scan() {
		msg, err := stratum.ParseMessage(scanner.Bytes())
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.received = append(s.received, msg)
		s.mu.Unlock()

		switch msg.Method {
		case stratum.MethodSubscribe:
			subscribeID = msg.ID
		case stratum.MethodAuthorize:
			authorizeID = msg.ID
		}
	}
	if subscribeID == nil || authorizeID == nil {
		return
	}

	steps := s.behavior.Steps
	if steps == nil {
		steps = DefaultSteps
	}
	for _, step := range steps {
		if s.behavior.Delay > 0 {
			select {
			case <-time.After(s.behavior.Delay):
			case <-s.closed:
				return
			}
		}
		if step == StepHangUp {
			return
		}
		s.writeLine(w, s.render(step, subscribeID, authorizeID))
	}

	// hold the connection until the client leaves
	_, _ = bufio.NewReader(conn).ReadString(0)
}

func (s *Server) render(step string, subscribeID, authorizeID any) string {
	var msg *stratum.Message
	switch step {
	case StepSubscribe:
		msg = stratum.NewResponse(subscribeID, []any{
			[]any{[]any{stratum.MethodSetDifficulty, "1"}, []any{stratum.MethodNotify, "1"}},
			s.behavior.Extranonce1,
			s.behavior.Extranonce2Size,
		})
	case StepAuthorize:
		if s.behavior.RawAuthError != "" {
			id, err := json.Marshal(authorizeID)
			if err != nil {
				return ""
			}
			return `{"id":` + string(id) + `,"result":false,"error":` + s.behavior.RawAuthError + `}`
		}
		if s.behavior.AuthError != nil {
			msg = stratum.NewErrorResponse(authorizeID, s.behavior.AuthError.Code, s.behavior.AuthError.Message)
		} else {
			result := s.behavior.AuthResult
			if result == nil {
				result = true
			}
			msg = stratum.NewResponse(authorizeID, result)
		}
	case StepSetDifficulty:
		msg = stratum.NewNotification(stratum.MethodSetDifficulty, []any{1024})
	case StepNotify:
		if s.behavior.Job == nil {
			return ""
		}
		msg = stratum.NewNotification(stratum.MethodNotify, s.behavior.Job.NotifyParams())
	case StepNoise:
		return "this is not json {"
	case StepOversized:
		return `{"id":null,"method":"client.show_message","params":["` + strings.Repeat("x", stratum.MaxLineLength) + `"]}`
	default:
		return ""
	}

	data, err := stratum.MarshalMessage(msg)
	if err != nil {
		return ""
	}
	return string(data)
}

func (s *Server) writeLine(w *bufio.Writer, line string) {
	_, _ = w.WriteString(line + "\n")
	_ = w.Flush()
}

func selfSignedCert() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "stratumtest"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}
