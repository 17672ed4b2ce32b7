package verify

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"

	"github.com/bardlex/poolverify/pkg/errors"
	"github.com/bardlex/poolverify/pkg/log"
)

const resolvConf = "/etc/resolv.conf"

// DNSResolver queries a single name server for A and then AAAA records. It is
// read-only and safe for concurrent use.
type DNSResolver struct {
	server string
	client *dns.Client
	logger *log.Logger
}

// NewDNSResolver uses server (host or host:port). When server is empty the
// first name server in /etc/resolv.conf is used.
func NewDNSResolver(server string, timeout time.Duration, logger *log.Logger) (*DNSResolver, error) {
	if logger == nil {
		logger = log.Discard()
	}

	if server == "" {
		conf, err := dns.ClientConfigFromFile(resolvConf)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "dns_config", "failed to read "+resolvConf)
		}
		if len(conf.Servers) == 0 {
			return nil, errors.New(errors.ErrorTypeNetwork, "dns_config", "no name server in "+resolvConf)
		}
		server = net.JoinHostPort(conf.Servers[0], conf.Port)
	} else if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}

	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return &DNSResolver{
		server: server,
		client: &dns.Client{Timeout: timeout},
		logger: logger.WithComponent("dns").WithFields("server", server),
	}, nil
}

// Server is the name server address in use
func (r *DNSResolver) Server() string {
	return r.server
}

// Resolve returns the first address host resolves to. IP literals are
// returned unchanged.
func (r *DNSResolver) Resolve(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}

	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), qtype)

		resp, rtt, err := r.client.ExchangeContext(ctx, msg, r.server)
		if err != nil {
			lastErr = err
			continue
		}
		r.logger.Debug("dns exchange", "host", host, "type", dns.TypeToString[qtype],
			"rcode", dns.RcodeToString[resp.Rcode], "rtt", rtt)

		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("%s lookup for %s: %s", dns.TypeToString[qtype], host, dns.RcodeToString[resp.Rcode])
			continue
		}
		for _, rr := range resp.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				return rec.A.String(), nil
			case *dns.AAAA:
				return rec.AAAA.String(), nil
			}
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no address records for %s", host)
	}
	return "", errors.Wrap(lastErr, errors.ErrorTypeNetwork, "dns_resolve", "failed to resolve "+host).
		WithContext("host", host)
}
