package stratum

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/bardlex/poolverify/pkg/errors"
)

// Transport is the socket type used to reach a pool
type Transport int

const (
	// TCP is a plain TCP connection
	TCP Transport = iota
	// TLS is a TLS connection
	TLS
)

// String returns "tcp" or "tls"
func (t Transport) String() string {
	if t == TLS {
		return "tls"
	}
	return "tcp"
}

// MarshalText lets Transport appear as a string in JSON results
func (t Transport) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Endpoint is a parsed pool address
type Endpoint struct {
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Transport Transport `json:"transport"`
}

// Address returns host:port, bracketing IPv6 literals
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return e.Transport.String() + "://" + e.Address()
}

var schemes = map[string]Transport{
	"stratum+tcp": TCP,
	"stratum+ssl": TLS,
	"stratum+tls": TLS,
	"stratum":     TCP,
	"tcp":         TCP,
	"ssl":         TLS,
	"tls":         TLS,
}

// ParseEndpoint accepts stratum+tcp://, stratum+ssl://, stratum+tls://, ssl://,
// tls://, tcp:// or a bare host[:port]. A port in the URL wins over
// defaultPort.
func ParseEndpoint(raw string, defaultPort int) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, errors.New(errors.ErrorTypeValidation, "parse_endpoint", "empty pool url")
	}
	if !strings.Contains(raw, "://") {
		raw = "tcp://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, errors.Wrap(err, errors.ErrorTypeValidation, "parse_endpoint", "invalid pool url").
			WithContext("url", raw)
	}

	transport, ok := schemes[strings.ToLower(u.Scheme)]
	if !ok {
		return Endpoint{}, errors.New(errors.ErrorTypeValidation, "parse_endpoint", "unsupported scheme "+u.Scheme).
			WithContext("url", raw)
	}

	host := u.Hostname()
	if host == "" {
		return Endpoint{}, errors.New(errors.ErrorTypeValidation, "parse_endpoint", "pool url has no host").
			WithContext("url", raw)
	}

	port := defaultPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return Endpoint{}, errors.Wrap(err, errors.ErrorTypeValidation, "parse_endpoint", "invalid port").
				WithContext("url", raw)
		}
	}
	if port < 1 || port > 65535 {
		return Endpoint{}, errors.New(errors.ErrorTypeValidation, "parse_endpoint", "port out of range "+strconv.Itoa(port)).
			WithContext("url", raw)
	}

	return Endpoint{Host: host, Port: port, Transport: transport}, nil
}
