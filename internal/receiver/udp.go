// Package receiver feeds raw datagrams into the processing queue from a UDP socket,
// a MiniSEED file or a packet capture.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rewired-gh/seisguard/internal/logger"
)

const (
	maxDatagram  = 65535
	readDeadline = 100 * time.Millisecond
)

// UDPListener receives datagrams on a UDP socket.
type UDPListener struct {
	address  string
	rcvBuf   int
	conn     *net.UDPConn
	received atomic.Uint64
}

// UDPConfig configures the listener.
type UDPConfig struct {
	Address string
	RcvBuf  int
}

func NewUDPListener(cfg UDPConfig) *UDPListener {
	return &UDPListener{address: cfg.Address, rcvBuf: cfg.RcvBuf}
}

// Listen binds the socket.
func (l *UDPListener) Listen() error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			logger.Warn("Failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}
	l.conn = conn
	logger.Info("UDP listener started on %s", conn.LocalAddr())
	return nil
}

// LocalAddr returns the bound address, or nil before Listen.
func (l *UDPListener) LocalAddr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Received returns the number of datagrams read so far.
func (l *UDPListener) Received() uint64 { return l.received.Load() }

// Serve reads datagrams into out until ctx is cancelled. Each datagram is copied,
// and the send waits for queue space rather than dropping.
func (l *UDPListener) Serve(ctx context.Context, out chan<- []byte) error {
	if l.conn == nil {
		if err := l.Listen(); err != nil {
			return err
		}
	}
	defer l.conn.Close()

	buffer := make([]byte, maxDatagram)
	for {
		if ctx.Err() != nil {
			logger.Info("UDP listener stopping (%d datagrams received)", l.received.Load())
			return ctx.Err()
		}
		// deadline lets the loop observe cancellation
		_ = l.conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, _, err := l.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("UDP read error: %v", err)
			continue
		}
		l.received.Add(1)
		if err := send(ctx, out, append([]byte(nil), buffer[:n]...)); err != nil {
			return err
		}
	}
}

func send(ctx context.Context, out chan<- []byte, data []byte) error {
	select {
	case out <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
