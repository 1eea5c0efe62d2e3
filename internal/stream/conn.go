package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	"marketsync/internal/metrics"
	"marketsync/internal/wire"
	"marketsync/logger"
)

// finalSendTimeout bounds how long a broadcast will wait on a subscriber
// that has stopped draining its channel before dropping a final event.
const finalSendTimeout = 5 * time.Second

// subscriber pairs a delivery channel with its own lock so a slow consumer
// only ever stalls itself. The channel is closed exactly once, under mu, and
// every send happens under the same mu, so close never races a send.
type subscriber struct {
	ch chan wire.Event

	mu     sync.Mutex
	closed bool
}

// send delivers one event. Throttleable events are dropped when the buffer
// is full; final events block until delivered, the context ends, or the
// send timeout expires. It reports whether the event was dropped on timeout.
func (s *subscriber) send(ctx context.Context, event wire.Event, blocking bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	if !blocking {
		select {
		case s.ch <- event:
		default:
		}
		return false
	}

	select {
	case s.ch <- event:
		return false
	case <-ctx.Done():
		return false
	case <-time.After(finalSendTimeout):
		return true
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// connection owns the single physical socket for one key: the run loop that
// dials and re-dials it, the subscriber registry, and the per-kind throttle
// state. The socket handle lives entirely inside the run loop; only the
// listener set survives a reconnect.
type connection struct {
	key Key
	mux *Multiplexer
	log *logger.Entry

	mu       sync.Mutex
	subs     map[uuid.UUID]*subscriber
	lastEmit map[wire.EventKind]time.Time
	linger   *time.Timer

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newConnection(mux *Multiplexer, key Key) *connection {
	return &connection{
		key:      key,
		mux:      mux,
		subs:     make(map[uuid.UUID]*subscriber),
		lastEmit: make(map[wire.EventKind]time.Time),
		log: logger.GetLogger().WithComponent("stream_conn").WithFields(logger.Fields{
			"key": key.Path(),
		}),
	}
}

// start launches the run loop if it is not already running.
func (c *connection) start(parent context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	go func() {
		defer close(done)
		c.run(ctx)
	}()
}

// stop cancels the run loop (and with it any pending reconnect wait) and
// blocks until it has exited. Calling stop on a stopped connection is a
// no-op.
func (c *connection) stop() {
	c.runMu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.done = nil
	c.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *connection) run(ctx context.Context) {
	rc := c.mux.cfg.Reconnect
	retry := &backoff.Backoff{
		Min:    rc.MinDelay,
		Max:    rc.MaxDelay,
		Factor: rc.Factor,
		Jitter: rc.Jitter,
	}

	for {
		if ctx.Err() != nil {
			return
		}

		source, err := c.mux.dial(ctx, c.key)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.IncrementReconnects(c.key.Path())
			c.log.WithError(err).Warn("failed to open stream connection")
			if waitReconnect(ctx, retry.Duration()) {
				return
			}
			continue
		}

		retry.Reset()
		c.log.Info("stream connected")

		c.pump(ctx, source)

		if ctx.Err() != nil {
			return
		}
		metrics.IncrementReconnects(c.key.Path())
		c.log.Warn("stream disconnected, scheduling reconnect")
		if waitReconnect(ctx, retry.Duration()) {
			return
		}
	}
}

// pump forwards events from one live socket until it fails or the context
// is cancelled.
func (c *connection) pump(ctx context.Context, source EventSource) {
	defer source.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-source.Events():
			if !ok {
				return
			}
			c.broadcast(ctx, event)
		}
	}
}

// broadcast delivers an event to every subscriber. Update-in-place kinds
// (open klines, tickers) are throttled per kind and dropped for subscribers
// that are not keeping up; final kinds are delivered to every subscriber.
// The registry lock is released before any send, so one stalled subscriber
// never blocks subscribe or cancel on this connection.
func (c *connection) broadcast(ctx context.Context, event wire.Event) {
	throttleable := event.Kind == wire.KindKlineOpen || event.Kind == wire.KindTicker

	c.mu.Lock()
	quantum := c.mux.cfg.ThrottleInterval
	if throttleable && quantum > 0 {
		if last, ok := c.lastEmit[event.Kind]; ok && time.Since(last) < quantum {
			metrics.IncrementThrottled(c.key.Path())
			c.mu.Unlock()
			return
		}
		c.lastEmit[event.Kind] = time.Now()
	}
	type target struct {
		id  uuid.UUID
		sub *subscriber
	}
	targets := make([]target, 0, len(c.subs))
	for id, sub := range c.subs {
		targets = append(targets, target{id: id, sub: sub})
	}
	c.mu.Unlock()

	for _, t := range targets {
		if ctx.Err() != nil {
			return
		}
		if dropped := t.sub.send(ctx, event, !throttleable); dropped {
			c.log.WithFields(logger.Fields{
				"subscriber": t.id.String(),
				"kind":       event.Kind.String(),
			}).Error("subscriber not draining, dropping final event")
		}
	}
}

func (c *connection) addSubscriber(id uuid.UUID, ch chan wire.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.linger != nil {
		c.linger.Stop()
		c.linger = nil
	}
	c.subs[id] = &subscriber{ch: ch}
}

// removeSubscriber deletes and closes the subscriber channel. It reports
// whether the subscriber set is now empty.
func (c *connection) removeSubscriber(id uuid.UUID) bool {
	c.mu.Lock()
	sub, ok := c.subs[id]
	if ok {
		delete(c.subs, id)
	}
	empty := len(c.subs) == 0
	c.mu.Unlock()

	if ok {
		sub.close()
	}
	return empty
}

func (c *connection) empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs) == 0
}

func (c *connection) subscriberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// startLinger schedules teardown after the keep-alive window. Any pending
// linger timer is replaced.
func (c *connection) startLinger(d time.Duration, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.linger != nil {
		c.linger.Stop()
	}
	c.linger = time.AfterFunc(d, fn)
}

func (c *connection) stopLinger() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.linger != nil {
		c.linger.Stop()
		c.linger = nil
	}
}

// closeAll closes every subscriber channel. Used on multiplexer shutdown so
// callback adapter goroutines terminate.
func (c *connection) closeAll() {
	c.mu.Lock()
	subs := make([]*subscriber, 0, len(c.subs))
	for id, sub := range c.subs {
		delete(c.subs, id)
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func waitReconnect(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
