package wire

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketsync/internal/metrics"
	"marketsync/logger"
)

const defaultPingInterval = 20 * time.Second

// Conn is a single live websocket connection to one exchange stream. It owns
// the socket handle and a read loop that converts raw frames into typed
// events. A Conn is not reconnected; when the socket fails the events channel
// is closed and the owner decides whether to dial again.
type Conn struct {
	stream string
	ws     *websocket.Conn
	events chan Event
	log    *logger.Entry

	closeOnce sync.Once
	done      chan struct{}
}

// Dial opens a websocket connection for a single stream path, e.g.
// "btcusdt@kline_1m". The base URL is the exchange's raw stream endpoint.
func Dial(ctx context.Context, baseURL, stream string, pingInterval time.Duration) (*Conn, error) {
	url := strings.TrimRight(baseURL, "/") + "/" + stream

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}

	c := &Conn{
		stream: stream,
		ws:     ws,
		events: make(chan Event),
		done:   make(chan struct{}),
		log: logger.GetLogger().WithComponent("wire_client").WithFields(logger.Fields{
			"stream": stream,
		}),
	}

	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	go c.pingLoop(pingInterval)
	go c.readLoop()

	return c, nil
}

// Stream returns the stream path this connection serves.
func (c *Conn) Stream() string {
	return c.stream
}

// Events returns the channel of parsed events. The channel is closed when
// the socket errors or Close is called.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// Close tears down the socket. It is idempotent; closing an already-closed
// connection is a no-op.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func (c *Conn) readLoop() {
	defer close(c.events)
	defer c.Close()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.WithError(err).Warn("websocket read failed")
			}
			return
		}

		metrics.IncrementFrames(c.stream)

		event, err := ParseFrame(data)
		if err != nil {
			// Malformed frames are dropped, never fatal.
			metrics.IncrementParseErrors(c.stream)
			c.log.WithError(err).Warn("dropping unparseable frame")
			continue
		}

		select {
		case c.events <- event:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(time.Second)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.log.WithError(err).Warn("failed to send websocket ping")
				c.Close()
				return
			}
		}
	}
}
