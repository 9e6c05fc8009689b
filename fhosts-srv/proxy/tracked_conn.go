package proxy

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// trackedConn wraps a net.Conn and counts transferred bytes so the
// statistics collector can be fed accurate totals when the connection
// ends.
type trackedConn struct {
	net.Conn
	bytesSent     int64 // accessed atomically
	bytesReceived int64 // accessed atomically
	startTime     time.Time
}

func newTrackedConn(conn net.Conn) *trackedConn {
	return &trackedConn{
		Conn:      conn,
		startTime: time.Now(),
	}
}

func (c *trackedConn) Read(b []byte) (n int, err error) {
	n, err = c.Conn.Read(b)
	if n > 0 {
		atomic.AddInt64(&c.bytesReceived, int64(n))
	}
	return n, err
}

func (c *trackedConn) Write(b []byte) (n int, err error) {
	n, err = c.Conn.Write(b)
	if n > 0 {
		atomic.AddInt64(&c.bytesSent, int64(n))
	}
	return n, err
}

// CloseWrite half-closes the underlying connection when it supports it,
// falling back to a full close. Half-closing the peer is how one tunnel
// copy loop unblocks the other.
func (c *trackedConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return c.Conn.Close()
}

func (c *trackedConn) BytesSent() int64 {
	return atomic.LoadInt64(&c.bytesSent)
}

func (c *trackedConn) BytesReceived() int64 {
	return atomic.LoadInt64(&c.bytesReceived)
}

func (c *trackedConn) Age() time.Duration {
	return time.Since(c.startTime)
}

// closeWrite half-closes any connection that supports it.
func closeWrite(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
		return
	}
	_ = conn.Close()
}

// tunnelSet tracks the connections of in-flight tunnels so a stop can
// force-close them instead of leaking the copy goroutines.
type tunnelSet struct {
	mu     sync.Mutex
	nextID int64
	conns  map[int64][]net.Conn
}

func newTunnelSet() *tunnelSet {
	return &tunnelSet{conns: make(map[int64][]net.Conn)}
}

func (s *tunnelSet) add(conns ...net.Conn) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.conns[s.nextID] = conns
	return s.nextID
}

func (s *tunnelSet) remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

func (s *tunnelSet) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, conns := range s.conns {
		for _, conn := range conns {
			_ = conn.Close()
		}
		delete(s.conns, id)
	}
}

func (s *tunnelSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
