package feed

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/platewise/boardsync/internal/enum"
)

// fakeConn is an in-memory Conn fed by a message channel.
type fakeConn struct {
	mu       sync.Mutex
	incoming chan []byte
	written  []interface{}
	writeErr error
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan []byte, 16)}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	msg, ok := <-f.incoming
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return 1, msg, nil
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, v)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.incoming)
	}
	return nil
}

func (f *fakeConn) push(t *testing.T, ev Change) {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	f.incoming <- b
}

func waitFor(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Change{}
	}
}

func TestOpenSendsPresence(t *testing.T) {
	conn := newFakeConn()
	p := Presence{Viewer: "kitchen-1", Page: "board"}
	ch, err := Open(conn, p)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ch.Close()

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.written) != 1 {
		t.Fatalf("expected 1 presence write, got %d", len(conn.written))
	}
	got, ok := conn.written[0].(Presence)
	if !ok || got.Viewer != "kitchen-1" {
		t.Fatalf("unexpected presence payload: %#v", conn.written[0])
	}
}

func TestOpenPresenceFailureIsCallerVisible(t *testing.T) {
	conn := newFakeConn()
	conn.writeErr = errors.New("broken pipe")
	if _, err := Open(conn, Presence{}); err == nil {
		t.Fatal("Open should fail when the presence write fails")
	}
	if !conn.closed {
		t.Error("connection should be closed after a failed Open")
	}
}

func TestSubscribeAllDeliversInOrder(t *testing.T) {
	conn := newFakeConn()
	ch, err := Open(conn, Presence{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ch.Close()

	got := make(chan Change, 16)
	ch.SubscribeAll(func(ev Change) { got <- ev })

	conn.push(t, Change{Type: enum.EventInsert, Table: enum.TableOrders, New: json.RawMessage(`{"id":"a"}`)})
	conn.push(t, Change{Type: enum.EventUpdate, Table: enum.TableOrders, New: json.RawMessage(`{"id":"a"}`), Old: json.RawMessage(`{"id":"a"}`)})
	conn.push(t, Change{Type: enum.EventDelete, Table: enum.TablePayments, Old: json.RawMessage(`{"id":"p"}`)})

	if ev := waitFor(t, got); ev.Type != enum.EventInsert {
		t.Errorf("event 1: got %s, want INSERT", ev.Type)
	}
	if ev := waitFor(t, got); ev.Type != enum.EventUpdate {
		t.Errorf("event 2: got %s, want UPDATE", ev.Type)
	}
	if ev := waitFor(t, got); ev.Table != enum.TablePayments {
		t.Errorf("event 3: got table %s, want payments", ev.Table)
	}
}

func TestMultipleSubscribersAllReceive(t *testing.T) {
	conn := newFakeConn()
	ch, err := Open(conn, Presence{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ch.Close()

	a := make(chan Change, 1)
	b := make(chan Change, 1)
	ch.SubscribeAll(func(ev Change) { a <- ev })
	ch.SubscribeAll(func(ev Change) { b <- ev })

	conn.push(t, Change{Type: enum.EventInsert, Table: enum.TableOrders, New: json.RawMessage(`{}`)})

	waitFor(t, a)
	waitFor(t, b)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	conn := newFakeConn()
	ch, err := Open(conn, Presence{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ch.Close()

	got := make(chan Change, 4)
	unsub := ch.SubscribeAll(func(ev Change) { got <- ev })

	conn.push(t, Change{Type: enum.EventInsert, Table: enum.TableOrders, New: json.RawMessage(`{}`)})
	waitFor(t, got)

	unsub()
	conn.push(t, Change{Type: enum.EventInsert, Table: enum.TableOrders, New: json.RawMessage(`{}`)})

	select {
	case <-got:
		t.Fatal("handler invoked after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMalformedEventsAreDropped(t *testing.T) {
	conn := newFakeConn()
	ch, err := Open(conn, Presence{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ch.Close()

	got := make(chan Change, 4)
	ch.SubscribeAll(func(ev Change) { got <- ev })

	conn.incoming <- []byte(`not json`)
	// INSERT without a new record is invalid.
	conn.push(t, Change{Type: enum.EventInsert, Table: enum.TableOrders})
	conn.push(t, Change{Type: "TRUNCATE", Table: enum.TableOrders, New: json.RawMessage(`{}`)})
	conn.push(t, Change{Type: enum.EventInsert, Table: enum.TableOrders, New: json.RawMessage(`{"id":"ok"}`)})

	ev := waitFor(t, got)
	if string(ev.New) != `{"id":"ok"}` {
		t.Errorf("expected only the valid event, got %s", ev.New)
	}
}

func TestChannelReportsTransportError(t *testing.T) {
	conn := newFakeConn()
	ch, err := Open(conn, Presence{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	conn.Close()

	select {
	case <-ch.Done():
	case <-time.After(time.Second):
		t.Fatal("channel did not report transport drop")
	}
	if ch.Err() == nil {
		t.Error("expected a transport error after drop")
	}
}

func TestCloseIsCleanAndIdempotent(t *testing.T) {
	conn := newFakeConn()
	ch, err := Open(conn, Presence{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ch.Close()
	ch.Close()

	select {
	case <-ch.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Close")
	}
	if ch.Err() != nil {
		t.Errorf("clean close should leave a nil error, got %v", ch.Err())
	}
}
