package stratum

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/bardlex/poolverify/pkg/log"
)

func receive(t *testing.T, ch <-chan *Message) *Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
		return nil
	}
}

func TestDispatcher_RoutesInAnyOrder(t *testing.T) {
	stream := strings.Join([]string{
		`Welcome to the pool`,
		`{"id":null,"method":"mining.notify","params":["j1"]}`,
		``,
		`{"id":2,"result":true,"error":null}`,
		`{"id":7,"result":true,"error":null}`,
		`{"id":null,"method":"mining.set_difficulty","params":[512]}`,
		`{"id":"1","result":[[],"abcd",4],"error":null}`,
		`{"id":1,"result":"duplicate","error":null}`,
	}, "\n") + "\n"

	d := newDispatcher(log.Discard())
	sub := d.expectID("1")
	auth := d.expectID("2")
	notify := d.expectMethod(MethodNotify)

	go d.run(strings.NewReader(stream))

	if msg := receive(t, sub); ParseSubscribeResult(msg.Result).Extranonce1 != "abcd" {
		t.Errorf("subscribe routed %+v", msg)
	}
	if msg := receive(t, auth); msg.Result != true {
		t.Errorf("authorize routed %+v", msg)
	}
	if msg := receive(t, notify); msg.Params[0] != "j1" {
		t.Errorf("notify routed %+v", msg)
	}

	<-d.closed()
	if d.cause() != nil {
		t.Errorf("cause() = %v, want nil at EOF", d.cause())
	}
	select {
	case msg := <-sub:
		t.Errorf("second response for id 1 delivered: %+v", msg)
	default:
	}
}

func TestDispatcher_NotificationQueueDrops(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < methodQueueSize+3; i++ {
		sb.WriteString(`{"id":null,"method":"mining.notify","params":["j"]}` + "\n")
	}

	d := newDispatcher(log.Discard())
	notify := d.expectMethod(MethodNotify)
	d.run(strings.NewReader(sb.String()))

	if len(notify) != methodQueueSize {
		t.Errorf("queued = %d, want %d", len(notify), methodQueueSize)
	}
}

func TestDispatcher_LineTooLong(t *testing.T) {
	line := `{"id":1,"result":"` + strings.Repeat("a", MaxLineLength) + `"}` + "\n"

	d := newDispatcher(log.Discard())
	sub := d.expectID("1")
	d.run(strings.NewReader(line))

	if !errors.Is(d.cause(), ErrLineTooLong) {
		t.Errorf("cause() = %v, want ErrLineTooLong", d.cause())
	}
	if len(sub) != 0 {
		t.Error("oversized line was delivered")
	}
}

func TestDispatcher_ReadError(t *testing.T) {
	r, w := io.Pipe()
	d := newDispatcher(log.Discard())
	go d.run(r)

	boom := errors.New("reset by peer")
	_ = w.CloseWithError(boom)

	select {
	case <-d.closed():
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
	if !errors.Is(d.cause(), boom) {
		t.Errorf("cause() = %v, want %v", d.cause(), boom)
	}
}
