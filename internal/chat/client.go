package chat

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/papochat/papo/internal/protocol"
)

const (
	defaultSendQueueSize = 256
	defaultWriteTimeout  = 5 * time.Second
)

// Client is a live connection and its registry state: the socket, the
// authenticated username once login succeeds, and the last-heartbeat instant.
// All outbound frames go through a per-client write queue so writes to one
// socket are serialized and a slow peer never stalls the dispatch worker.
type Client struct {
	conn net.Conn
	ip   string

	mu       sync.Mutex
	username string

	lastSeen atomic.Int64 // unix nanos of the last received frame

	sendCh    chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once

	writeTimeout time.Duration
}

// NewClient creates the connection state for conn.
func NewClient(conn net.Conn, sendQueueSize int, writeTimeout time.Duration) (*Client, error) {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return nil, fmt.Errorf("splitting host port: %w", err)
	}

	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	c := &Client{
		conn:         conn,
		ip:           host,
		sendCh:       make(chan []byte, sendQueueSize),
		closeCh:      make(chan struct{}),
		writeTimeout: writeTimeout,
	}
	c.Touch()
	return c, nil
}

// Conn returns the underlying network connection.
func (c *Client) Conn() net.Conn {
	return c.conn
}

// IP returns the client's remote IP address.
func (c *Client) IP() string {
	return c.ip
}

// Username returns the authenticated username ("" before login).
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// SetUsername records the authenticated username.
func (c *Client) SetUsername(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = name
}

// Touch updates the last-heartbeat instant to now.
// Every received frame counts as a heartbeat, not only PING.
func (c *Client) Touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns the last-heartbeat instant.
func (c *Client) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// writePump is the dedicated writer goroutine for this client. It drains
// sendCh and writes each frame with a per-write deadline.
func (c *Client) writePump() {
	for {
		select {
		case line, ok := <-c.sendCh:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				slog.Warn("set write deadline failed", "client", c.ip, "error", err)
				return
			}
			if _, err := c.conn.Write(line); err != nil {
				slog.Warn("write failed", "client", c.ip, "error", err)
				return
			}
		case <-c.closeCh:
			return
		}
	}
}

// Send queues an encoded frame for async delivery.
// Non-blocking: a full queue means a slow client, which gets disconnected.
func (c *Client) Send(line []byte) error {
	select {
	case c.sendCh <- line:
		return nil
	case <-c.closeCh:
		return fmt.Errorf("client closed")
	default:
		slog.Warn("send queue full, disconnecting slow client", "client", c.ip, "user", c.Username())
		_ = c.Close()
		return fmt.Errorf("send queue full")
	}
}

// SendFrame encodes v and queues it.
func (c *Client) SendFrame(v any) error {
	line, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	return c.Send(line)
}

// CloseAsync signals the writePump to stop without blocking.
// Safe to call multiple times.
func (c *Client) CloseAsync() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
	})
}

// Close closes the connection and stops the writePump.
func (c *Client) Close() error {
	c.CloseAsync()
	return c.conn.Close()
}
