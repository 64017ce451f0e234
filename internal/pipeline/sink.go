package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rewired-gh/seisguard/internal/logger"
	"github.com/rewired-gh/seisguard/internal/models"
)

// Sink consumes alert episodes and intensity results.
type Sink interface {
	AlertTriggered(ctx context.Context, alert models.Alert) error
	AlertReset(ctx context.Context, alert models.Alert) error
	Intensity(ctx context.Context, result models.IntensityResult) error
}

// Forwarder relays raw datagrams and alarm events to downstream consumers.
type Forwarder interface {
	ForwardData(data []byte, channels []string)
	ForwardEvent(ev models.AlertEvent)
}

// SnapshotScheduler arranges for a waveform image of an alert to be rendered later.
type SnapshotScheduler interface {
	Schedule(alert models.Alert)
}

// MultiSink fans each call out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) AlertTriggered(ctx context.Context, alert models.Alert) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.AlertTriggered(ctx, alert))
	}
	return errors.Join(errs...)
}

func (m MultiSink) AlertReset(ctx context.Context, alert models.Alert) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.AlertReset(ctx, alert))
	}
	return errors.Join(errs...)
}

func (m MultiSink) Intensity(ctx context.Context, result models.IntensityResult) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Intensity(ctx, result))
	}
	return errors.Join(errs...)
}

// AsyncSink runs a slow sink on its own goroutine behind a bounded queue so the
// processing loop never waits on it. Calls made while the queue is full are dropped
// and counted.
type AsyncSink struct {
	name    string
	inner   Sink
	queue   chan func(context.Context) error
	dropped atomic.Uint64
	wg      sync.WaitGroup
	once    sync.Once
}

// NewAsyncSink wraps inner with a queue of the given size. Start must be called
// before calls are delivered.
func NewAsyncSink(name string, inner Sink, size int) *AsyncSink {
	if size < 1 {
		size = 1
	}
	return &AsyncSink{name: name, inner: inner, queue: make(chan func(context.Context) error, size)}
}

// Start runs the delivery goroutine until ctx is cancelled or Close is called.
func (a *AsyncSink) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case call, ok := <-a.queue:
				if !ok {
					return
				}
				if err := call(ctx); err != nil {
					logger.Warn("Sink %s failed: %v", a.name, err)
				}
			}
		}
	}()
}

// Close delivers what is queued and waits for the goroutine. No calls may be made
// after Close.
func (a *AsyncSink) Close() {
	a.once.Do(func() { close(a.queue) })
	a.wg.Wait()
}

// Dropped returns the number of calls discarded because the queue was full.
func (a *AsyncSink) Dropped() uint64 { return a.dropped.Load() }

func (a *AsyncSink) enqueue(call func(context.Context) error) error {
	select {
	case a.queue <- call:
	default:
		n := a.dropped.Add(1)
		logger.Warn("Sink %s queue full, dropped call (%d total)", a.name, n)
	}
	return nil
}

func (a *AsyncSink) AlertTriggered(_ context.Context, alert models.Alert) error {
	return a.enqueue(func(ctx context.Context) error { return a.inner.AlertTriggered(ctx, alert) })
}

func (a *AsyncSink) AlertReset(_ context.Context, alert models.Alert) error {
	return a.enqueue(func(ctx context.Context) error { return a.inner.AlertReset(ctx, alert) })
}

func (a *AsyncSink) Intensity(_ context.Context, result models.IntensityResult) error {
	return a.enqueue(func(ctx context.Context) error { return a.inner.Intensity(ctx, result) })
}
