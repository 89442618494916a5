package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"classdesk.org/internal/auth"
	"classdesk.org/internal/obs"
)

var (
	ErrQueueFull = errors.New("notify: queue is full")
	ErrClosed    = errors.New("notify: dispatcher is closed")
)

var _ auth.Notifier = (*Dispatcher)(nil)

// DispatcherConfig tunes the delivery pool.
type DispatcherConfig struct {
	QueueSize   int
	Workers     int
	SendTimeout time.Duration
}

// Dispatcher renders account emails synchronously and delivers them on a
// bounded worker pool. Deliveries are attempted once.
type Dispatcher struct {
	mailer   Mailer
	composer *Composer
	log      *slog.Logger
	timeout  time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Message
	wg     sync.WaitGroup
}

// NewDispatcher starts the worker pool.
func NewDispatcher(mailer Mailer, composer *Composer, cfg DispatcherConfig, logger *slog.Logger) (*Dispatcher, error) {
	if mailer == nil || composer == nil {
		return nil, errors.New("notify: mailer and composer are required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		mailer:   mailer,
		composer: composer,
		log:      logger,
		timeout:  cfg.SendTimeout,
		queue:    make(chan Message, cfg.QueueSize),
	}
	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.worker()
	}
	return d, nil
}

func (d *Dispatcher) Welcome(ctx context.Context, email, temporaryPassword string) error {
	return d.enqueue(ctx, KindWelcome, email, temporaryPassword)
}

func (d *Dispatcher) PasswordChanged(ctx context.Context, email string) error {
	return d.enqueue(ctx, KindPasswordChanged, email, "")
}

func (d *Dispatcher) PasswordReset(ctx context.Context, email, temporaryPassword string) error {
	return d.enqueue(ctx, KindPasswordReset, email, temporaryPassword)
}

func (d *Dispatcher) enqueue(ctx context.Context, kind Kind, email, temporaryPassword string) error {
	msg, err := d.composer.Compose(kind, email, temporaryPassword)
	if err != nil {
		obs.ObserveNotification(string(kind), "failed")
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		obs.ObserveNotification(string(kind), "dropped")
		return ErrClosed
	}
	select {
	case d.queue <- msg:
		return nil
	default:
		obs.ObserveNotification(string(kind), "dropped")
		d.log.WarnContext(ctx, "notification dropped: queue full", "kind", string(kind), "to", email)
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.mailer.Send(ctx, msg); err != nil {
		obs.ObserveNotification(string(msg.Kind), "failed")
		d.log.Warn("notification delivery failed", "kind", string(msg.Kind), "to", msg.To, "error", err)
		return
	}
	obs.ObserveNotification(string(msg.Kind), "sent")
}

// Close stops accepting messages and waits for queued ones to be attempted,
// or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
