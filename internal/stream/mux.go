// Package stream multiplexes logical market-data subscriptions onto physical
// websocket connections. At most one socket is ever open per (symbol, stream)
// key; subscribers share it through per-subscriber buffered channels.
package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	appconfig "marketsync/config"
	"marketsync/internal/wire"
	"marketsync/logger"
	"marketsync/models"
)

// EventSource is a live, already-dialed stream of typed events. wire.Conn
// implements it; tests substitute fakes.
type EventSource interface {
	Events() <-chan wire.Event
	Close()
}

// Dialer opens the physical connection for a key.
type Dialer func(ctx context.Context, key Key) (EventSource, error)

// Subscription is the handle returned to a logical subscriber. Events arrive
// on C; Cancel unregisters the subscriber and closes C.
type Subscription struct {
	ID  uuid.UUID
	Key Key
	C   <-chan wire.Event

	mux  *Multiplexer
	once sync.Once
}

// Cancel removes the listener. When the subscriber set for the key becomes
// empty the connection is torn down, except for the canonical ticker key
// which lingers for the configured keep-alive window. Cancel is idempotent.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.mux.unsubscribe(s.Key, s.ID)
	})
}

// Multiplexer deduplicates physical connections by key and fans events out
// to subscribers. It is an explicitly constructed service instance; create
// one per process (or per test).
type Multiplexer struct {
	cfg       appconfig.StreamConfig
	dial      Dialer
	canonical Key
	log       *logger.Log

	ctx       context.Context
	cancelAll context.CancelFunc

	mu        sync.Mutex
	conns     map[Key]*connection
	suspended bool
	closed    bool
}

// NewMultiplexer creates a multiplexer whose connections live within the
// provided context. The canonical key names the designated ticker stream
// kept alive opportunistically after its last unsubscribe.
func NewMultiplexer(ctx context.Context, cfg appconfig.StreamConfig, dial Dialer, canonical Key) *Multiplexer {
	log := logger.GetLogger()
	muxCtx, cancel := context.WithCancel(ctx)

	m := &Multiplexer{
		cfg:       cfg,
		dial:      dial,
		canonical: canonical,
		log:       log,
		ctx:       muxCtx,
		cancelAll: cancel,
		conns:     make(map[Key]*connection),
	}

	log.WithComponent("stream_mux").WithFields(logger.Fields{
		"canonical":         canonical.Path(),
		"throttle_interval": cfg.ThrottleInterval.String(),
		"ticker_keepalive":  cfg.KeepAlive.String(),
	}).Info("stream multiplexer initialized")

	return m
}

// Subscribe registers a listener for a key, opening the physical connection
// if this is the first subscriber.
func (m *Multiplexer) Subscribe(key Key) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("multiplexer is closed")
	}

	conn, ok := m.conns[key]
	if !ok {
		conn = newConnection(m, key)
		m.conns[key] = conn
		if !m.suspended {
			conn.start(m.ctx)
		}
	}

	id := uuid.New()
	ch := make(chan wire.Event, m.cfg.SubscriberBuffer)
	conn.addSubscriber(id, ch)

	m.log.WithComponent("stream_mux").WithFields(logger.Fields{
		"key":         key.Path(),
		"subscriber":  id.String(),
		"subscribers": conn.subscriberCount(),
	}).Debug("subscriber registered")

	return &Subscription{ID: id, Key: key, C: ch, mux: m}, nil
}

// SubscribeKline registers a callback for candle updates on a symbol and
// interval. Open-candle updates may be throttled; final candles are always
// delivered.
func (m *Multiplexer) SubscribeKline(symbol, interval string, fn func(models.Candle)) (*Subscription, error) {
	sub, err := m.Subscribe(KlineKey(symbol, interval))
	if err != nil {
		return nil, err
	}
	go func() {
		for event := range sub.C {
			if event.Candle != nil {
				fn(*event.Candle)
			}
		}
	}()
	return sub, nil
}

// SubscribeTicker registers a callback for ticker updates on a symbol.
func (m *Multiplexer) SubscribeTicker(symbol string, fn func(models.Ticker)) (*Subscription, error) {
	sub, err := m.Subscribe(TickerKey(symbol))
	if err != nil {
		return nil, err
	}
	go func() {
		for event := range sub.C {
			if event.Ticker != nil {
				fn(*event.Ticker)
			}
		}
	}()
	return sub, nil
}

func (m *Multiplexer) unsubscribe(key Key, id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	conn, ok := m.conns[key]
	if !ok {
		return
	}

	if !conn.removeSubscriber(id) {
		return
	}

	if key == m.canonical && m.cfg.KeepAlive > 0 && !m.suspended {
		m.log.WithComponent("stream_mux").WithFields(logger.Fields{
			"key":       key.Path(),
			"keepalive": m.cfg.KeepAlive.String(),
		}).Debug("canonical ticker idle, lingering before teardown")
		conn.startLinger(m.cfg.KeepAlive, func() { m.teardownIfEmpty(key) })
		return
	}

	m.teardownLocked(key, conn)
}

// teardownIfEmpty is the linger timer callback: tear the connection down
// only if no subscriber arrived during the keep-alive window.
func (m *Multiplexer) teardownIfEmpty(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	conn, ok := m.conns[key]
	if !ok || !conn.empty() {
		return
	}
	m.teardownLocked(key, conn)
}

func (m *Multiplexer) teardownLocked(key Key, conn *connection) {
	delete(m.conns, key)
	conn.stopLinger()
	conn.stop()
	m.log.WithComponent("stream_mux").WithFields(logger.Fields{"key": key.Path()}).Info("connection torn down")
}

// Suspend force-closes every socket regardless of subscriber count while
// preserving listener registries. Lingering idle connections are discarded
// instead of kept.
func (m *Multiplexer) Suspend() {
	m.mu.Lock()
	if m.closed || m.suspended {
		m.mu.Unlock()
		return
	}
	m.suspended = true

	stopping := make([]*connection, 0, len(m.conns))
	for key, conn := range m.conns {
		conn.stopLinger()
		if conn.empty() {
			delete(m.conns, key)
		}
		stopping = append(stopping, conn)
	}
	m.mu.Unlock()

	for _, conn := range stopping {
		conn.stop()
	}

	m.log.WithComponent("stream_mux").WithFields(logger.Fields{
		"connections": len(stopping),
	}).Info("multiplexer suspended")
}

// Resume re-opens a connection for every key that still has subscribers.
func (m *Multiplexer) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || !m.suspended {
		return
	}
	m.suspended = false

	resumed := 0
	for _, conn := range m.conns {
		if !conn.empty() {
			conn.start(m.ctx)
			resumed++
		}
	}

	m.log.WithComponent("stream_mux").WithFields(logger.Fields{
		"connections": resumed,
	}).Info("multiplexer resumed")
}

// Close permanently tears down every connection and rejects further
// subscriptions. It is idempotent.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	conns := make([]*connection, 0, len(m.conns))
	for key, conn := range m.conns {
		delete(m.conns, key)
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	m.cancelAll()
	for _, conn := range conns {
		conn.stopLinger()
		conn.stop()
		conn.closeAll()
	}

	m.log.WithComponent("stream_mux").Info("multiplexer closed")
}

// ActiveKeys returns the keys that currently hold a connection entry.
func (m *Multiplexer) ActiveKeys() []Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]Key, 0, len(m.conns))
	for key := range m.conns {
		keys = append(keys, key)
	}
	return keys
}

// SubscriberCount reports the number of listeners registered for a key.
func (m *Multiplexer) SubscriberCount(key Key) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[key]
	if !ok {
		return 0
	}
	return conn.subscriberCount()
}
