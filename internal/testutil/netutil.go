package testutil

import (
	"fmt"
	"net"
	"testing"
	"time"
)

// TCPPair returns two ends of a loopback TCP connection. Unlike net.Pipe,
// both ends carry real host:port addresses and kernel buffering.
// Both ends are closed when the test finishes.
func TCPPair(t testing.TB) (client, server net.Conn) {
	t.Helper()

	ln, _ := ListenTCP(t)

	type accepted struct {
		conn net.Conn
		err  error
	}
	acceptCh := make(chan accepted, 1)
	go func() {
		conn, err := ln.Accept()
		acceptCh <- accepted{conn: conn, err: err}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dialing test listener: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	acc := <-acceptCh
	if acc.err != nil {
		t.Fatalf("accepting test connection: %v", acc.err)
	}
	t.Cleanup(func() { _ = acc.conn.Close() })

	return client, acc.conn
}

// ListenTCP creates a TCP listener on a random port.
// Returns the listener and its "host:port" address.
func ListenTCP(t testing.TB) (net.Listener, string) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create TCP listener: %v", err)
	}

	t.Cleanup(func() {
		_ = listener.Close()
	})

	return listener, listener.Addr().String()
}

// WaitForTCPReady polls addr until a connection succeeds or the timeout expires.
func WaitForTCPReady(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("tcp %s not ready within %v", addr, timeout)
}
