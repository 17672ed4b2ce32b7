package stratum

import (
	"bufio"
	"errors"
	"io"
	"sync"

	"github.com/bardlex/poolverify/pkg/log"
)

// MaxLineLength bounds a single line from the pool
const MaxLineLength = 1 << 20

const methodQueueSize = 4

// dispatcher reads newline-delimited JSON from the pool and routes each message
// to the channel registered for its id (responses) or method (notifications).
// Registration happens before any request is written, so the order in which
// the pool answers does not matter.
type dispatcher struct {
	logger *log.Logger

	mu       sync.Mutex
	byID     map[string]chan *Message
	byMethod map[string]chan *Message

	done chan struct{}
	err  error
}

func newDispatcher(logger *log.Logger) *dispatcher {
	return &dispatcher{
		logger:   logger,
		byID:     make(map[string]chan *Message),
		byMethod: make(map[string]chan *Message),
		done:     make(chan struct{}),
	}
}

// expectID registers interest in the first response carrying id
func (d *dispatcher) expectID(id string) <-chan *Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := make(chan *Message, 1)
	d.byID[id] = ch
	return ch
}

// expectMethod registers interest in notifications for method. Deliveries
// beyond the queue size are dropped.
func (d *dispatcher) expectMethod(method string) <-chan *Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := make(chan *Message, methodQueueSize)
	d.byMethod[method] = ch
	return ch
}

// closed is signalled once the read loop ends
func (d *dispatcher) closed() <-chan struct{} {
	return d.done
}

// cause is the read error that ended the loop, nil for a clean EOF. Only valid
// after closed() fires.
func (d *dispatcher) cause() error {
	return d.err
}

// run reads until r fails or reaches EOF
func (d *dispatcher) run(r io.Reader) {
	defer close(d.done)

	buf := getLineBuffer()
	defer putLineBuffer(buf)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(*buf, MaxLineLength)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		d.logger.LogStratumMessage("received", string(line))

		msg, err := ParseMessage(line)
		if err != nil {
			// pools interleave banners and other noise
			continue
		}
		d.deliver(msg)
	}

	d.err = scanner.Err()
	if errors.Is(d.err, bufio.ErrTooLong) {
		d.err = ErrLineTooLong
	}
}

func (d *dispatcher) deliver(msg *Message) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if msg.IsResponse() {
		key := msg.IDKey()
		if ch, ok := d.byID[key]; ok {
			ch <- msg
			delete(d.byID, key)
		}
		return
	}

	if ch, ok := d.byMethod[msg.Method]; ok {
		select {
		case ch <- msg:
		default:
			d.logger.Debug("dropping queued stratum notification", "method", msg.Method)
		}
	}
}
