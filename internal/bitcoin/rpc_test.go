package bitcoin

import "testing"

func TestNewChainClient(t *testing.T) {
	tests := []struct {
		name string
		host string
		port int
	}{
		{"local node", "127.0.0.1", 8332},
		{"port zero", "localhost", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// creation never dials in HTTP POST mode
			client, err := NewChainClient(tt.host, tt.port, "user", "pass")
			if err != nil {
				t.Fatalf("NewChainClient() unexpected error: %v", err)
			}
			if client.circuitBreaker == nil || client.retryConfig == nil {
				t.Error("client missing circuit breaker or retry config")
			}
			client.Close()
		})
	}
}
