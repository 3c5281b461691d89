package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"time"
)

// DatagramHandler consumes one datagram payload.
type DatagramHandler interface {
	HandleDatagram(b []byte) error
}

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	Address string
	RcvBuf  int
	Handler DatagramHandler
	// SocketFactory defaults to RealUDPSocketFactory.
	SocketFactory UDPSocketFactory
	// LogInterval controls how often drop counts are logged; default 1m.
	LogInterval time.Duration
}

// Listener runs the single receive loop for detection datagrams.
type Listener struct {
	cfg       ListenerConfig
	conn      UDPSocket
	received  atomic.Int64
	dropped   atomic.Int64
	localAddr atomic.Value // net.Addr
}

func NewListener(cfg ListenerConfig) *Listener {
	if cfg.SocketFactory == nil {
		cfg.SocketFactory = RealUDPSocketFactory{}
	}
	if cfg.LogInterval <= 0 {
		cfg.LogInterval = time.Minute
	}
	return &Listener{cfg: cfg}
}

// Received returns the number of datagrams read since Start.
func (l *Listener) Received() int64 { return l.received.Load() }

// Dropped returns the number of datagrams the handler rejected.
func (l *Listener) Dropped() int64 { return l.dropped.Load() }

// LocalAddr returns the bound address once the socket is open.
func (l *Listener) LocalAddr() net.Addr {
	if a, ok := l.localAddr.Load().(net.Addr); ok {
		return a
	}
	return nil
}

// Bind resolves the listen address and opens the socket. Start calls it when
// the caller has not, but binding first lets setup errors surface before any
// worker is running.
func (l *Listener) Bind() error {
	if l.conn != nil {
		return nil
	}
	addr, err := net.ResolveUDPAddr("udp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := l.cfg.SocketFactory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	l.conn = conn
	l.localAddr.Store(conn.LocalAddr())
	return nil
}

// Start listens until ctx is cancelled. Read errors and rejected datagrams are
// counted and skipped; only socket setup failures end the loop early.
func (l *Listener) Start(ctx context.Context) error {
	if err := l.Bind(); err != nil {
		return err
	}
	conn := l.conn
	defer conn.Close()

	if l.cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(l.cfg.RcvBuf); err != nil {
			log.Printf("Warning: Failed to set UDP receive buffer size to %d: %v", l.cfg.RcvBuf, err)
		}
	}
	log.Printf("Detection listener started on %s", conn.LocalAddr())

	buffer := make([]byte, 2048)
	lastLog := time.Now()
	var lastDropped int64
	for {
		if ctx.Err() != nil {
			log.Printf("Detection listener stopping: received=%d dropped=%d", l.Received(), l.Dropped())
			return ctx.Err()
		}
		if time.Since(lastLog) >= l.cfg.LogInterval {
			if d := l.Dropped(); d > lastDropped {
				log.Printf("Detection listener: received=%d dropped=%d (+%d)", l.Received(), d, d-lastDropped)
				lastDropped = d
			}
			lastLog = time.Now()
		}

		// A short deadline lets the loop notice cancellation.
		if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			log.Printf("Warning: failed to set read deadline: %v", err)
		}
		n, _, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Printf("UDP read error: %v", err)
			continue
		}
		l.received.Add(1)
		if err := l.cfg.Handler.HandleDatagram(buffer[:n]); err != nil {
			l.dropped.Add(1)
		}
	}
}
