package bitcoin

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/bardlex/poolverify/pkg/log"
)

// TopicHashBlock is the Bitcoin Core ZMQ topic published on every new tip
const TopicHashBlock = "hashblock"

const zmqPollInterval = 250 * time.Millisecond

// ZMQNotifier subscribes to a node's hashblock feed
type ZMQNotifier struct {
	socket   *zmq.Socket
	endpoint string
	logger   *log.Logger
}

// NewZMQNotifier creates a SUB socket for endpoint
func NewZMQNotifier(endpoint string, logger *log.Logger) (*ZMQNotifier, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}

	return &ZMQNotifier{
		socket:   socket,
		endpoint: endpoint,
		logger:   logger.WithComponent("zmq"),
	}, nil
}

// Connect subscribes to hashblock and connects to the endpoint
func (z *ZMQNotifier) Connect() error {
	if err := z.socket.SetSubscribe(TopicHashBlock); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", TopicHashBlock, err)
	}
	if err := z.socket.Connect(z.endpoint); err != nil {
		return fmt.Errorf("failed to connect to ZMQ endpoint %s: %w", z.endpoint, err)
	}
	z.logger.Info("connected to ZMQ endpoint", "endpoint", z.endpoint, "topic", TopicHashBlock)
	return nil
}

// Listen calls onBlock with the display-order hash of every new block until ctx
// is done
func (z *ZMQNotifier) Listen(ctx context.Context, onBlock func(hash string)) error {
	poller := zmq.NewPoller()
	poller.Add(z.socket, zmq.POLLIN)

	for {
		select {
		case <-ctx.Done():
			z.logger.Info("ZMQ listener stopping")
			return ctx.Err()
		default:
		}

		polled, err := poller.Poll(zmqPollInterval)
		if err != nil {
			z.logger.Error("ZMQ poll failed", "error", err)
			continue
		}
		if len(polled) == 0 {
			continue
		}

		msg, err := z.socket.RecvMessageBytes(0)
		if err != nil {
			z.logger.Error("failed to receive ZMQ message", "error", err)
			continue
		}

		hash, err := ParseBlockNotification(msg)
		if err != nil {
			z.logger.Warn("ignoring ZMQ message", "error", err)
			continue
		}
		z.logger.Debug("new block notification", "hash", hash)
		onBlock(hash)
	}
}

// Close closes the socket
func (z *ZMQNotifier) Close() error {
	if z.socket != nil {
		return z.socket.Close()
	}
	return nil
}

// ParseBlockNotification validates a multipart hashblock message (topic, hash,
// optional sequence) and returns the hash in display byte order.
func ParseBlockNotification(parts [][]byte) (string, error) {
	if len(parts) < 2 {
		return "", fmt.Errorf("malformed ZMQ message with %d parts", len(parts))
	}
	if topic := string(parts[0]); topic != TopicHashBlock {
		return "", fmt.Errorf("unexpected ZMQ topic %q", topic)
	}
	data := parts[1]
	if len(data) != 32 {
		return "", fmt.Errorf("invalid block hash length: %d", len(data))
	}

	reversed := make([]byte, len(data))
	for i := range data {
		reversed[i] = data[len(data)-1-i]
	}
	return hex.EncodeToString(reversed), nil
}
