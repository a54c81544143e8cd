// Package streamtest runs an in-process restream server for tests. It plays
// the server side of the wire: preamble first, then packets, mirroring the
// order the real sink uses for a newly connected client.
package streamtest

import (
	"bytes"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/streamctl/internal/protocol/frame"
)

// Script drives one accepted connection. The connection is closed after
// the script returns.
type Script func(conn net.Conn)

type Server struct {
	ln net.Listener
	wg sync.WaitGroup
}

// Start listens on a loopback port and runs script for each accepted
// connection until the test ends.
func Start(t testing.TB, script Script) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &Server{ln: ln}
	s.wg.Add(1)
	go s.acceptLoop(script)
	t.Cleanup(s.Close)
	return s
}

func (s *Server) acceptLoop(script Script) {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			script(conn)
		}()
	}
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	p, _ := strconv.Atoi(port)
	return p
}

func (s *Server) Close() {
	_ = s.ln.Close()
	s.wg.Wait()
}

// Encode renders a preamble followed by packets into wire bytes.
func Encode(h frame.SessionHeader, packets ...frame.Packet) []byte {
	var buf bytes.Buffer
	_ = frame.WriteSessionHeader(&buf, h)
	for _, p := range packets {
		_ = frame.WritePacket(&buf, p)
	}
	return buf.Bytes()
}

// Send writes b in one call, ignoring peer resets.
func Send(b []byte) Script {
	return func(conn net.Conn) {
		_, _ = conn.Write(b)
	}
}

// Trickle writes b in chunks of size n with an optional pause between them.
func Trickle(b []byte, n int, pause time.Duration) Script {
	return func(conn net.Conn) {
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}
		for len(b) > 0 {
			k := min(n, len(b))
			if _, err := conn.Write(b[:k]); err != nil {
				return
			}
			b = b[k:]
			if pause > 0 {
				time.Sleep(pause)
			}
		}
	}
}

// SendAndHold writes b then keeps the connection open until release is
// closed or the peer goes away.
func SendAndHold(b []byte, release <-chan struct{}) Script {
	return func(conn net.Conn) {
		if _, err := conn.Write(b); err != nil {
			return
		}
		peerGone := make(chan struct{})
		go func() {
			var one [1]byte
			_, _ = conn.Read(one[:])
			close(peerGone)
		}()
		select {
		case <-release:
		case <-peerGone:
		}
	}
}
