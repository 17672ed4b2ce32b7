package bitcoin

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/rpcclient"

	"github.com/bardlex/poolverify/pkg/circuit"
	"github.com/bardlex/poolverify/pkg/errors"
	"github.com/bardlex/poolverify/pkg/retry"
)

// ChainClient talks to Bitcoin Core over JSON-RPC. The verifier only needs the
// tip height, to tell whether a pool's template builds on a stale block.
type ChainClient struct {
	client         *rpcclient.Client
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// NewChainClient creates an HTTP POST mode client; no request is sent until the
// first call.
func NewChainClient(host string, port int, username, password string) (*ChainClient, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         fmt.Sprintf("%s:%d", host, port),
		User:         username,
		Pass:         password,
		HTTPPostMode: true,
		DisableTLS:   true,
	}

	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "rpc_client_creation",
			"failed to create Bitcoin RPC client").
			WithContext("host", host).
			WithContext("port", port)
	}

	return &ChainClient{
		client: client,
		circuitBreaker: circuit.New(&circuit.Config{
			Name:            "bitcoin_rpc",
			MaxFailures:     3,
			SuccessRequired: 2,
			Timeout:         10 * time.Second,
			ResetTimeout:    30 * time.Second,
		}),
		retryConfig: retry.NetworkConfig(),
	}, nil
}

// Close shuts down the underlying client
func (c *ChainClient) Close() {
	c.client.Shutdown()
}

// GetBlockCount returns the height of the node's best block
func (c *ChainClient) GetBlockCount(ctx context.Context) (int64, error) {
	return circuit.ExecuteWithResult(ctx, c.circuitBreaker, func() (int64, error) {
		return retry.DoWithResult(ctx, c.retryConfig, func() (int64, error) {
			count, err := c.client.GetBlockCountAsync().Receive()
			if err != nil {
				return 0, errors.Wrap(err, errors.ErrorTypeNetwork, "get_block_count",
					"failed to retrieve current block height")
			}
			return count, nil
		})
	})
}

// GetBestBlockHash returns the hash of the node's best block
func (c *ChainClient) GetBestBlockHash(ctx context.Context) (string, error) {
	return circuit.ExecuteWithResult(ctx, c.circuitBreaker, func() (string, error) {
		return retry.DoWithResult(ctx, c.retryConfig, func() (string, error) {
			hash, err := c.client.GetBestBlockHashAsync().Receive()
			if err != nil {
				return "", errors.Wrap(err, errors.ErrorTypeNetwork, "get_best_block_hash",
					"failed to retrieve best block hash")
			}
			return hash.String(), nil
		})
	})
}

// Ping checks connectivity to the node
func (c *ChainClient) Ping(ctx context.Context) error {
	return c.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			if err := c.client.PingAsync().Receive(); err != nil {
				return errors.Wrap(err, errors.ErrorTypeNetwork, "ping",
					"Bitcoin Core connectivity check failed")
			}
			return nil
		})
	})
}
