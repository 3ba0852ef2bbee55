package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// WebhookReceived is emitted once per processed webhook; the
	// provider-scoped name is WebhookReceived + "." + provider.
	WebhookReceived = "payment.webhook"

	// AnyEvent subscribes a listener to every event name.
	AnyEvent = "*"
)

type Event struct {
	Name       string         `json:"event"`
	Provider   string         `json:"provider"`
	Reference  string         `json:"reference,omitempty"`
	Status     string         `json:"status,omitempty"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func ProviderWebhookEvent(provider string) string {
	return WebhookReceived + "." + provider
}

type Listener interface {
	Handle(ctx context.Context, ev Event) error
}

type ListenerFunc func(ctx context.Context, ev Event) error

func (f ListenerFunc) Handle(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Dispatcher fans events out to listeners on their own goroutines. A
// listener error is logged and never reaches the emitter.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[string][]Listener
	logger    *zap.Logger
	timeout   time.Duration
	wg        sync.WaitGroup
}

func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		listeners: make(map[string][]Listener),
		logger:    logger,
		timeout:   30 * time.Second,
	}
}

func (d *Dispatcher) Subscribe(name string, l Listener) {
	d.mu.Lock()
	d.listeners[name] = append(d.listeners[name], l)
	d.mu.Unlock()
}

func (d *Dispatcher) listenersFor(name string) []Listener {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Listener, 0, len(d.listeners[name])+len(d.listeners[AnyEvent]))
	out = append(out, d.listeners[name]...)
	out = append(out, d.listeners[AnyEvent]...)
	return out
}

// Emit returns immediately. Delivery is detached from ctx cancellation so
// a finished HTTP request does not abort it.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	base := context.WithoutCancel(ctx)

	for _, l := range d.listenersFor(ev.Name) {
		d.wg.Add(1)
		go func(l Listener) {
			defer d.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("event listener panicked", zap.String("event", ev.Name), zap.Any("panic", r))
				}
			}()

			lctx, cancel := context.WithTimeout(base, d.timeout)
			defer cancel()
			if err := l.Handle(lctx, ev); err != nil {
				d.logger.Warn("event listener failed",
					zap.String("event", ev.Name),
					zap.String("provider", ev.Provider),
					zap.Error(err))
			}
		}(l)
	}
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
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
