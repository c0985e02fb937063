package testutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/papochat/papo/internal/protocol"
)

// FrameConn is a test-side chat client: it sends and receives
// newline-delimited JSON frames over a net.Conn with deadlines.
// It buffers partial lines itself so a timed-out TryRecv never loses
// data or poisons later reads (bufio.Scanner is sticky after an error).
type FrameConn struct {
	t    testing.TB
	conn net.Conn
	buf  []byte
}

// DialFrame connects to a chat server address.
// The connection is closed when the test finishes.
func DialFrame(t testing.TB, addr string) *FrameConn {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dialing %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return WrapFrame(t, conn)
}

// WrapFrame wraps an existing connection end.
func WrapFrame(t testing.TB, conn net.Conn) *FrameConn {
	t.Helper()
	return &FrameConn{
		t:    t,
		conn: conn,
	}
}

// Conn returns the wrapped connection.
func (f *FrameConn) Conn() net.Conn {
	return f.conn
}

// Close closes the connection.
func (f *FrameConn) Close() {
	_ = f.conn.Close()
}

// Send encodes v as one frame and writes it.
func (f *FrameConn) Send(v any) {
	f.t.Helper()

	line, err := protocol.Encode(v)
	if err != nil {
		f.t.Fatalf("encoding frame: %v", err)
	}
	f.SendRaw(string(line))
}

// SendRaw writes a raw line (caller includes the trailing newline).
func (f *FrameConn) SendRaw(line string) {
	f.t.Helper()

	if err := f.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		f.t.Fatalf("setting write deadline: %v", err)
	}
	if _, err := f.conn.Write([]byte(line)); err != nil {
		f.t.Fatalf("writing frame: %v", err)
	}
}

// Recv returns the next frame as a generic map, failing after timeout.
func (f *FrameConn) Recv(timeout time.Duration) map[string]any {
	f.t.Helper()

	frame, err := f.tryRecv(timeout)
	if err != nil {
		f.t.Fatalf("reading frame: %v", err)
	}
	return frame
}

// TryRecv returns the next frame, or an error on timeout/close.
func (f *FrameConn) TryRecv(timeout time.Duration) (map[string]any, error) {
	return f.tryRecv(timeout)
}

func (f *FrameConn) tryRecv(timeout time.Duration) (map[string]any, error) {
	deadline := time.Now().Add(timeout)
	for {
		if i := bytes.IndexByte(f.buf, '\n'); i >= 0 {
			line := bytes.TrimSpace(f.buf[:i])
			f.buf = f.buf[i+1:]
			if len(line) == 0 {
				continue
			}
			var frame map[string]any
			if err := json.Unmarshal(line, &frame); err != nil {
				return nil, err
			}
			return frame, nil
		}

		if err := f.conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
		chunk := make([]byte, 4096)
		n, err := f.conn.Read(chunk)
		if n > 0 {
			f.buf = append(f.buf, chunk[:n]...)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

// RecvWhere skips frames until pred matches one, failing after timeout.
// Broadcast traffic (SYSTEM, USERLIST) interleaves with the frames a test
// is actually waiting for.
func (f *FrameConn) RecvWhere(timeout time.Duration, pred func(map[string]any) bool) map[string]any {
	f.t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			f.t.Fatalf("no matching frame within %v", timeout)
		}
		frame, err := f.tryRecv(remaining)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				f.t.Fatalf("no matching frame within %v", timeout)
			}
			f.t.Fatalf("reading frame: %v", err)
		}
		if pred(frame) {
			return frame
		}
	}
}

// RecvType skips frames until one of the given type arrives.
func (f *FrameConn) RecvType(timeout time.Duration, frameType string) map[string]any {
	f.t.Helper()
	return f.RecvWhere(timeout, func(m map[string]any) bool {
		return m["type"] == frameType
	})
}

// Register sends a REGISTER frame and returns the auth response.
func (f *FrameConn) Register(username, password string) map[string]any {
	f.t.Helper()
	f.Send(protocol.ClientFrame{Action: protocol.ActionRegister, Username: username, Password: password})
	return f.RecvWhere(5*time.Second, func(m map[string]any) bool {
		_, ok := m["status"]
		return ok
	})
}

// Login sends a LOGIN frame and returns the auth response.
func (f *FrameConn) Login(username, password string) map[string]any {
	f.t.Helper()
	f.Send(protocol.ClientFrame{Action: protocol.ActionLogin, Username: username, Password: password})
	return f.RecvWhere(5*time.Second, func(m map[string]any) bool {
		_, ok := m["status"]
		return ok
	})
}
