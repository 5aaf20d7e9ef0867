// Package transport is the single UDP endpoint a node sends and receives
// every protocol message through. Delivery is best effort: sends never
// block on the receiver and there are no retries at this layer.
package transport

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
)

// Datagrams larger than this are truncated by the read loop; the codecs
// reject truncated input, so an oversized message is dropped, not
// misparsed.
const maxDatagram = 65507

// fileMessageBase is the first discriminant byte value that belongs to
// the file operation protocol. Everything below it is membership.
const fileMessageBase = 100

// Handler consumes one received datagram. from is the sender's address.
type Handler func(data []byte, from string)

// UDP owns the node's socket and splits inbound traffic between the
// membership and file operation handlers by discriminant byte.
type UDP struct {
	conn *net.UDPConn
	logf func(format string, args ...interface{})

	mu                sync.RWMutex
	dropRate          float64
	membershipHandler Handler
	fileHandler       Handler
}

// Listen binds the socket. Binding happens synchronously so a port
// conflict surfaces as an error here; the receive loop starts in Start.
func Listen(host, port string, logf func(string, ...interface{})) (*UDP, error) {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, fmt.Errorf("resolve %s:%s: %w", host, port, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	return &UDP{conn: conn, logf: logf}, nil
}

// SetHandlers installs the inbound dispatch targets. Must be called
// before Start.
func (u *UDP) SetHandlers(membership, file Handler) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.membershipHandler = membership
	u.fileHandler = file
}

// SetDropRate sets the probability (0.0-1.0) that an outbound datagram
// is silently discarded. A testing hook for measuring the failure
// detector under message loss.
func (u *UDP) SetDropRate(rate float64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.dropRate = rate
}

// LocalAddr returns the bound address.
func (u *UDP) LocalAddr() string {
	return u.conn.LocalAddr().String()
}

// Start runs the receive loop in a background goroutine until the
// context is cancelled.
func (u *UDP) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		u.conn.Close()
	}()
	go u.receiveLoop(ctx)
}

func (u *UDP) receiveLoop(ctx context.Context) {
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			u.logf("udp read: %v", err)
			return
		}
		if n == 0 {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		u.mu.RLock()
		handler := u.membershipHandler
		if data[0] >= fileMessageBase {
			handler = u.fileHandler
		}
		u.mu.RUnlock()

		if handler != nil {
			handler(data, from.String())
		}
	}
}

// Send transmits one datagram to host:port. Errors are logged, never
// returned; the protocols above tolerate loss.
func (u *UDP) Send(addr string, payload []byte) {
	u.mu.RLock()
	drop := u.dropRate
	u.mu.RUnlock()
	if drop > 0 && rand.Float64() < drop {
		return
	}

	dst, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		u.logf("udp send: resolve %s: %v", addr, err)
		return
	}
	if _, err := u.conn.WriteToUDP(payload, dst); err != nil {
		u.logf("udp send to %s: %v", addr, err)
	}
}

// Close releases the socket.
func (u *UDP) Close() error {
	return u.conn.Close()
}
