// Package notify delivers best-effort side-channel messages about payment transitions.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-verification/internal/interfaces"
	"github.com/akylbek/payment-system/payment-verification/internal/models"
	"github.com/akylbek/payment-system/payment-verification/internal/telemetry"
)

const defaultSendTimeout = 5 * time.Second

// Dispatcher fans each notification out to its channels on a bounded worker pool.
// Dispatch never blocks: when the queue is full the message is dropped and counted.
type Dispatcher struct {
	channels    []interfaces.Channel
	queue       chan models.Notification
	sendTimeout time.Duration

	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func NewDispatcher(workers, queueSize int, channels ...interfaces.Channel) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	d := &Dispatcher{
		channels:    channels,
		queue:       make(chan models.Notification, queueSize),
		sendTimeout: defaultSendTimeout,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) Dispatch(n models.Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		telemetry.NotificationsTotal.WithLabelValues("all", "dropped").Inc()
		return
	}

	select {
	case d.queue <- n:
	default:
		telemetry.NotificationsTotal.WithLabelValues("all", "dropped").Inc()
		telemetry.Logger.Warn("Notification queue full, dropping message",
			zap.String("kind", string(n.Kind)),
			zap.Int64("payment_id", n.PaymentID),
		)
	}
}

// Close stops accepting messages and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for n := range d.queue {
		for _, ch := range d.channels {
			d.send(ch, n)
		}
	}
}

func (d *Dispatcher) send(ch interfaces.Channel, n models.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			telemetry.NotificationsTotal.WithLabelValues(ch.Name(), "failed").Inc()
			telemetry.Logger.Error("Notification channel panicked",
				zap.String("channel", ch.Name()),
				zap.Any("panic", r),
			)
		}
	}()

	if err := ch.Send(ctx, n); err != nil {
		telemetry.NotificationsTotal.WithLabelValues(ch.Name(), "failed").Inc()
		telemetry.Logger.Warn("Notification delivery failed",
			zap.String("channel", ch.Name()),
			zap.String("kind", string(n.Kind)),
			zap.Int64("payment_id", n.PaymentID),
			zap.Error(err),
		)
		return
	}
	telemetry.NotificationsTotal.WithLabelValues(ch.Name(), "sent").Inc()
}
