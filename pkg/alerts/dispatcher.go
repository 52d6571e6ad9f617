package alerts

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/model"
)

// sendTimeout bounds a single notifier delivery.
const sendTimeout = 15 * time.Second

// Dispatcher delivers alerts to notifiers on a background goroutine so
// callers never wait on the network. When the buffer is full new alerts are
// dropped and counted.
type Dispatcher struct {
	notifiers []Notifier
	logger    *slog.Logger

	mu     sync.RWMutex
	queue  chan model.Alert
	closed bool

	dropped atomic.Int64
	wg      sync.WaitGroup
}

// NewDispatcher starts a dispatcher with room for bufferSize pending alerts.
func NewDispatcher(notifiers []Notifier, bufferSize int, logger *slog.Logger) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	d := &Dispatcher{
		notifiers: notifiers,
		logger:    logger,
		queue:     make(chan model.Alert, bufferSize),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Dispatch queues an alert for delivery without blocking.
func (d *Dispatcher) Dispatch(alert model.Alert) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		return
	}
	select {
	case d.queue <- alert:
	default:
		d.dropped.Add(1)
		d.logger.Warn("alert queue full, dropping alert",
			"budget", alert.BudgetName,
			"threshold", alert.Threshold,
		)
	}
}

// Dropped returns how many alerts were discarded.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close stops accepting alerts, delivers the ones already queued and waits
// for the worker to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for alert := range d.queue {
		for _, notifier := range d.notifiers {
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			if err := notifier.Send(ctx, alert); err != nil {
				d.logger.Error("send alert failed",
					"notifier", notifier.Name(),
					"budget", alert.BudgetName,
					"error", err,
				)
			}
			cancel()
		}
	}
}
