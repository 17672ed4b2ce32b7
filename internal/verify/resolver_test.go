package verify

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/bardlex/poolverify/pkg/errors"
	"github.com/bardlex/poolverify/pkg/log"
)

// startDNS serves fixed records on a local UDP port
func startDNS(t *testing.T, records map[string]string) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket() error: %v", err)
	}

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		resp := new(dns.Msg)
		resp.SetReply(req)
		q := req.Question[0]
		if rec, ok := records[q.Name]; ok && q.Qtype == dns.TypeA {
			rr, err := dns.NewRR(q.Name + " 60 IN A " + rec)
			if err == nil {
				resp.Answer = append(resp.Answer, rr)
			}
		} else if !ok {
			resp.Rcode = dns.RcodeNameError
		}
		_ = w.WriteMsg(resp)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestDNSResolver_Resolve(t *testing.T) {
	server := startDNS(t, map[string]string{
		"pool.example.":    "203.0.113.7",
		"v6only.example.": "",
	})
	r, err := NewDNSResolver(server, time.Second, log.Discard())
	if err != nil {
		t.Fatalf("NewDNSResolver() error: %v", err)
	}

	tests := []struct {
		name    string
		host    string
		want    string
		wantErr bool
	}{
		{"a record", "pool.example", "203.0.113.7", false},
		{"ipv4 literal", "198.51.100.1", "198.51.100.1", false},
		{"ipv6 literal", "2001:db8::1", "2001:db8::1", false},
		{"nxdomain", "missing.example", "", true},
		{"no address records", "v6only.example", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), tt.host)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve(%q) error = %v, wantErr %v", tt.host, err, tt.wantErr)
			}
			if err != nil && !errors.IsType(err, errors.ErrorTypeNetwork) {
				t.Errorf("Resolve(%q) error type = %v", tt.host, err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.host, got, tt.want)
			}
		})
	}
}

func TestNewDNSResolver_DefaultPort(t *testing.T) {
	r, err := NewDNSResolver("192.0.2.53", 0, nil)
	if err != nil {
		t.Fatalf("NewDNSResolver() error: %v", err)
	}
	if r.Server() != "192.0.2.53:53" {
		t.Errorf("Server() = %q", r.Server())
	}
}
