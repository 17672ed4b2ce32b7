package bitcoin

import "context"

// ChainTip reports the local node's view of the best chain.
// The verifier uses it to flag templates built on a stale block.
type ChainTip interface {
	// GetBlockCount returns the height of the best block.
	GetBlockCount(ctx context.Context) (int64, error)
}

// BlockNotifier delivers new-block events from the node.
type BlockNotifier interface {
	// Connect establishes the subscription.
	Connect() error

	// Listen blocks until ctx is done, calling onBlock for every new tip.
	Listen(ctx context.Context, onBlock func(hash string)) error

	// Close releases the underlying socket.
	Close() error
}

// Compile-time interface compliance checks
var (
	_ ChainTip      = (*ChainClient)(nil)
	_ BlockNotifier = (*ZMQNotifier)(nil)
)
