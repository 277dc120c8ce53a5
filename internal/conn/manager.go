// Package conn keeps exactly one live feed subscription per enabled
// client, recovering from transport drops with a fixed-interval, bounded
// retry policy.
package conn

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/platewise/boardsync/internal/feed"
)

// Connection states.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
)

const (
	DefaultRetryInterval = 5 * time.Second
	DefaultMaxAttempts   = 5
)

// DialFunc opens one feed channel. It is called once per connection
// attempt and must respect ctx cancellation.
type DialFunc func(ctx context.Context) (*feed.Channel, error)

// Snapshot is the externally visible connection state, used by the UI for
// its live/offline indicator.
type Snapshot struct {
	State         string
	Attempts      int
	LastConnected time.Time
	// Exhausted is set once the retry budget is spent. Real-time updates
	// are unavailable until a manual refresh or a new Connect call.
	Exhausted bool
}

// Config configures a Manager.
type Config struct {
	Dial          DialFunc
	RetryInterval time.Duration // 0 means DefaultRetryInterval
	MaxAttempts   int           // 0 means DefaultMaxAttempts
	OnChange      func(feed.Change)
	OnStateChange func(Snapshot)
}

// Manager owns the feed channel's lifecycle: connect, detect drop,
// reconnect, give up after MaxAttempts consecutive failures. A stopped
// Manager guarantees zero further callback invocations.
type Manager struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	state         string
	attempts      int
	lastConnected time.Time
	exhausted     bool
	dialing       bool
	closed        bool
	timer         *time.Timer
	ch            *feed.Channel
	unsub         func()
}

// NewManager creates a Manager in the disconnected state.
func NewManager(cfg Config) *Manager {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		state:  StateDisconnected,
	}
}

// Connect starts a connection attempt. Calling it while an attempt is in
// flight, or while connected, is a no-op. Calling it after retries were
// exhausted starts a fresh attempt cycle.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.closed || m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.exhausted = false
	m.attempts = 0
	m.dialing = true
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(snap)
	go m.dial()
}

// Stop tears the manager down: cancels any pending retry timer and
// in-flight handshake, and releases the subscription. After Stop returns
// no OnChange or OnStateChange callback will be invoked.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	ch := m.ch
	unsub := m.unsub
	m.ch = nil
	m.unsub = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	m.cancel()
	if ch != nil {
		unsub()
		// Close waits for the channel's read loop to exit, so no dispatch
		// is in flight once Stop returns.
		ch.Close()
	}
}

// State returns the current connection snapshot.
func (m *Manager) State() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		State:         m.state,
		Attempts:      m.attempts,
		LastConnected: m.lastConnected,
		Exhausted:     m.exhausted,
	}
}

func (m *Manager) notify(snap Snapshot) {
	if m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(snap)
	}
}

func (m *Manager) dial() {
	ch, err := m.cfg.Dial(m.ctx)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		if ch != nil {
			ch.Close()
		}
		return
	}
	m.dialing = false

	if err != nil {
		m.attempts++
		if m.attempts >= m.cfg.MaxAttempts {
			// Out of retries. Surface a persistent offline state; the UI
			// falls back to manual refresh.
			m.state = StateDisconnected
			m.exhausted = true
			snap := m.snapshotLocked()
			m.mu.Unlock()
			log.Printf("conn: giving up after %d attempts: %v", snap.Attempts, err)
			m.notify(snap)
			return
		}
		m.timer = time.AfterFunc(m.cfg.RetryInterval, m.retry)
		snap := m.snapshotLocked()
		m.mu.Unlock()
		log.Printf("conn: attempt %d failed, retrying in %s: %v", snap.Attempts, m.cfg.RetryInterval, err)
		m.notify(snap)
		return
	}

	m.ch = ch
	m.unsub = ch.SubscribeAll(m.deliver)
	m.state = StateConnected
	m.attempts = 0
	m.exhausted = false
	m.lastConnected = time.Now()
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(snap)
	go m.watch(ch)
}

func (m *Manager) retry() {
	m.mu.Lock()
	if m.closed || m.dialing || m.state == StateConnected {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.dialing = true
	m.mu.Unlock()
	m.dial()
}

// watch waits for the channel to stop and starts the reconnect cycle.
func (m *Manager) watch(ch *feed.Channel) {
	<-ch.Done()

	m.mu.Lock()
	if m.closed || m.ch != ch {
		m.mu.Unlock()
		return
	}
	m.unsub()
	m.ch = nil
	m.unsub = nil
	m.state = StateConnecting
	m.dialing = true
	snap := m.snapshotLocked()
	m.mu.Unlock()

	log.Printf("conn: feed dropped: %v", ch.Err())
	m.notify(snap)
	m.dial()
}

// deliver forwards one change notification to the configured handler,
// unless the manager was stopped in the meantime.
func (m *Manager) deliver(ev feed.Change) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	handler := m.cfg.OnChange
	m.mu.Unlock()

	if handler != nil {
		handler(ev)
	}
}
