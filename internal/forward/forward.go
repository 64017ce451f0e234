// Package forward relays raw datagrams and alarm messages to remote UDP consumers.
package forward

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rewired-gh/seisguard/internal/logger"
	"github.com/rewired-gh/seisguard/internal/models"
)

const (
	defaultQueueSize = 32
	statsInterval    = time.Minute
)

var ErrNoDestinations = errors.New("forward: no destinations configured")

// Config selects what is forwarded and where.
type Config struct {
	// Addresses are host:port destinations.
	Addresses []string
	// Channels filters data packets by channel code suffix; empty or "all" forwards every channel.
	Channels  []string
	Data      bool
	Alarms    bool
	QueueSize int
}

// Stats are the counters of one destination.
type Stats struct {
	Addr    string
	Sent    uint64
	Dropped uint64
	Errors  uint64
}

type destination struct {
	addr    *net.UDPAddr
	queue   chan []byte
	sent    atomic.Uint64
	dropped atomic.Uint64
	errors  atomic.Uint64
}

// Forwarder fans messages out to every destination through a bounded queue each.
// Enqueueing never blocks; a full queue drops the message.
type Forwarder struct {
	cfg   Config
	conn  net.PacketConn
	dests []*destination
	wg    sync.WaitGroup
	once  sync.Once
}

// New resolves the destinations and opens one local UDP socket for sending.
func New(cfg Config) (*Forwarder, error) {
	if len(cfg.Addresses) == 0 {
		return nil, ErrNoDestinations
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	f := &Forwarder{cfg: cfg}
	for _, a := range cfg.Addresses {
		addr, err := net.ResolveUDPAddr("udp", a)
		if err != nil {
			return nil, fmt.Errorf("forward: cannot resolve %q: %w", a, err)
		}
		f.dests = append(f.dests, &destination{addr: addr, queue: make(chan []byte, cfg.QueueSize)})
	}
	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, fmt.Errorf("forward: failed to open socket: %w", err)
	}
	f.conn = conn

	addrs := make([]string, len(f.dests))
	for i, d := range f.dests {
		addrs[i] = d.addr.String()
	}
	logger.Info("Forwarding to %d destination(s) [%s] (channels=%v data=%v alarms=%v)",
		len(f.dests), strings.Join(addrs, ", "), cfg.Channels, cfg.Data, cfg.Alarms)
	return f, nil
}

// Start runs one sender goroutine per destination until ctx is cancelled or Close
// is called.
func (f *Forwarder) Start(ctx context.Context) {
	for i, d := range f.dests {
		f.wg.Add(1)
		go func(id int, d *destination) {
			defer f.wg.Done()
			f.run(ctx, id, d)
		}(i, d)
	}
}

func (f *Forwarder) run(ctx context.Context, id int, d *destination) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	var last Stats

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-d.queue:
			if !ok {
				logger.Debug("Forward #%d (%s) stopped", id, d.addr)
				return
			}
			if _, err := f.conn.WriteTo(msg, d.addr); err != nil {
				d.errors.Add(1)
				logger.Warn("Forward #%d (%s) send error: %v", id, d.addr, err)
				continue
			}
			d.sent.Add(1)
		case <-ticker.C:
			s := d.stats()
			logger.Info("Forward #%d (%s): sent=%d dropped=%d errors=%d (+%d/+%d/+%d)",
				id, d.addr, s.Sent, s.Dropped, s.Errors,
				s.Sent-last.Sent, s.Dropped-last.Dropped, s.Errors-last.Errors)
			last = s
		}
	}
}

func (d *destination) stats() Stats {
	return Stats{
		Addr:    d.addr.String(),
		Sent:    d.sent.Load(),
		Dropped: d.dropped.Load(),
		Errors:  d.errors.Load(),
	}
}

func (f *Forwarder) enqueue(msg []byte) {
	for _, d := range f.dests {
		select {
		case d.queue <- msg:
		default:
			d.dropped.Add(1)
		}
	}
}

// ForwardData forwards a raw datagram if data forwarding is enabled and any of its
// channels passes the filter.
func (f *Forwarder) ForwardData(data []byte, channels []string) {
	if !f.cfg.Data {
		return
	}
	for _, ch := range channels {
		if models.MatchChannel(ch, f.cfg.Channels) {
			f.enqueue(append([]byte(nil), data...))
			return
		}
	}
}

// ForwardEvent forwards an ALARM or RESET text message if alarm forwarding is enabled.
func (f *Forwarder) ForwardEvent(ev models.AlertEvent) {
	if !f.cfg.Alarms {
		return
	}
	f.enqueue([]byte(FormatEvent(ev)))
}

// FormatEvent renders ev as "ALARM <channel> <time>" or "RESET <channel> <time>".
func FormatEvent(ev models.AlertEvent) string {
	kind := "ALARM"
	if ev.Type == models.Reset {
		kind = "RESET"
	}
	return fmt.Sprintf("%s %s %s", kind, ev.Channel, ev.Timestamp.UTC().Format(time.RFC3339Nano))
}

// Stats returns the counters of every destination.
func (f *Forwarder) Stats() []Stats {
	out := make([]Stats, len(f.dests))
	for i, d := range f.dests {
		out[i] = d.stats()
	}
	return out
}

// Close stops the senders after draining their queues and closes the socket.
// No messages may be forwarded after Close.
func (f *Forwarder) Close() error {
	var err error
	f.once.Do(func() {
		for _, d := range f.dests {
			close(d.queue)
		}
		f.wg.Wait()
		err = f.conn.Close()
	})
	return err
}
