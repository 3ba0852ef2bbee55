package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Handle(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Name)
	}
	return out
}

func waitFor(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Wait(ctx); err != nil {
		t.Fatalf("Listeners did not finish: %v", err)
	}
}

func TestDispatcherRoutesByName(t *testing.T) {
	d := NewDispatcher(nil)
	generic, scoped, all := &recorder{}, &recorder{}, &recorder{}

	d.Subscribe(WebhookReceived, generic)
	d.Subscribe(ProviderWebhookEvent("paystack"), scoped)
	d.Subscribe(AnyEvent, all)

	ctx, cancel := context.WithCancel(context.Background())
	d.Emit(ctx, Event{Name: ProviderWebhookEvent("paystack"), Provider: "paystack"})
	d.Emit(ctx, Event{Name: WebhookReceived, Provider: "paystack"})
	cancel()
	waitFor(t, d)

	if got := generic.names(); len(got) != 1 || got[0] != WebhookReceived {
		t.Errorf("Expected generic listener to get one event, got %v", got)
	}
	if got := scoped.names(); len(got) != 1 || got[0] != "payment.webhook.paystack" {
		t.Errorf("Expected scoped listener to get one event, got %v", got)
	}
	if got := all.names(); len(got) != 2 {
		t.Errorf("Expected wildcard listener to get both events, got %v", got)
	}
}

func TestDispatcherSurvivesListenerFailure(t *testing.T) {
	d := NewDispatcher(nil)
	ok := &recorder{}

	d.Subscribe(WebhookReceived, ListenerFunc(func(context.Context, Event) error {
		return errors.New("boom")
	}))
	d.Subscribe(WebhookReceived, ListenerFunc(func(context.Context, Event) error {
		panic("listener bug")
	}))
	d.Subscribe(WebhookReceived, ok)

	d.Emit(context.Background(), Event{Name: WebhookReceived})
	waitFor(t, d)

	if len(ok.names()) != 1 {
		t.Error("Expected healthy listener to still receive the event")
	}
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}

	ev := Event{
		Name:     WebhookReceived,
		Provider: "monnify",
		Payload:  map[string]any{"eventType": "SUCCESSFUL_TRANSACTION"},
	}
	if err := p.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "monnify" {
		t.Errorf("Expected key monnify, got %s", w.msgs[0].Key)
	}

	var decoded Event
	if err := json.Unmarshal(w.msgs[0].Value, &decoded); err != nil {
		t.Fatalf("Expected JSON value, got %v", err)
	}
	if decoded.Payload["eventType"] != "SUCCESSFUL_TRANSACTION" {
		t.Errorf("Expected raw payload in message, got %v", decoded.Payload)
	}

	w.err = errors.New("broker down")
	if err := p.Handle(context.Background(), ev); err == nil {
		t.Error("Expected publish error to be returned")
	}
}
