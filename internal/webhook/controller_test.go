package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Mekazstan/paygate/internal/events"
	"github.com/Mekazstan/paygate/internal/payment"
	"github.com/Mekazstan/paygate/internal/store"
	"github.com/go-chi/chi/v5"
)

const testSecret = "sk_test_webhook"

type captureEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (e *captureEmitter) Emit(_ context.Context, ev events.Event) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

type fixture struct {
	router  http.Handler
	store   *store.MemoryStore
	emitter *captureEmitter
}

func newFixture(t *testing.T, verify bool) *fixture {
	t.Helper()

	txStore := store.NewMemoryStore()
	manager := payment.NewManager(payment.Config{
		Default: "paystack",
		Providers: map[string]payment.DriverConfig{
			"paystack": {Credentials: map[string]string{"secret_key": testSecret}},
			"stripe":   {Enabled: func() *bool { b := false; return &b }()},
			"monnify":  {Credentials: map[string]string{"api_key": "only"}},
		},
	}, payment.ManagerDeps{Store: txStore})

	emitter := &captureEmitter{}
	controller := NewController(manager, emitter, nil, nil, Config{VerifySignatures: verify})

	r := chi.NewRouter()
	r.Post("/webhooks/{provider}", controller.ServeHTTP)

	txStore.Create(context.Background(), &store.Transaction{
		Reference: "r1",
		Provider:  "paystack",
		Status:    payment.StatusPending,
		Currency:  "NGN",
		Email:     "a@b.com",
	})

	return &fixture{router: r, store: txStore, emitter: emitter}
}

func sign(body []byte) string {
	mac := hmac.New(sha512.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (f *fixture) post(provider string, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+provider, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("x-paystack-signature", signature)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func TestWebhookValidSignatureUpdatesTransaction(t *testing.T) {
	f := newFixture(t, true)
	body := []byte(`{"event":"charge.success","data":{"reference":"r1","status":"success","channel":"card"}}`)

	rr := f.post("paystack", body, sign(body))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	tx, err := f.store.GetByReference(context.Background(), "r1")
	if err != nil {
		t.Fatalf("Expected transaction, got %v", err)
	}
	if tx.Status != payment.StatusSuccess {
		t.Errorf("Expected status success, got %s", tx.Status)
	}
	if tx.PaidAt == nil {
		t.Error("Expected paid_at to be stamped")
	}
	if tx.Channel == nil || *tx.Channel != "card" {
		t.Errorf("Expected channel card, got %v", tx.Channel)
	}

	if len(f.emitter.events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(f.emitter.events))
	}
	if f.emitter.events[0].Name != "payment.webhook.paystack" || f.emitter.events[1].Name != events.WebhookReceived {
		t.Errorf("Unexpected event names: %s, %s", f.emitter.events[0].Name, f.emitter.events[1].Name)
	}
	if f.emitter.events[1].Payload["event"] != "charge.success" {
		t.Errorf("Expected raw payload on event, got %v", f.emitter.events[1].Payload)
	}
}

func TestWebhookInvalidSignatureIsRejected(t *testing.T) {
	f := newFixture(t, true)
	body := []byte(`{"data":{"reference":"r1","status":"success"}}`)

	tests := []struct {
		name      string
		signature string
	}{
		{"wrong signature", sign([]byte(`{"data":{"reference":"r1","status":"failed"}}`))},
		{"missing signature", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.post("paystack", body, tt.signature)
			if rr.Code != http.StatusForbidden {
				t.Errorf("Expected status 403, got %d", rr.Code)
			}
		})
	}

	tx, _ := f.store.GetByReference(context.Background(), "r1")
	if tx.Status != payment.StatusPending || tx.PaidAt != nil {
		t.Errorf("Expected transaction untouched, got %+v", tx)
	}
	if len(f.emitter.events) != 0 {
		t.Errorf("Expected no events, got %d", len(f.emitter.events))
	}
}

func TestWebhookUnresolvableDriver(t *testing.T) {
	f := newFixture(t, true)

	for _, provider := range []string{"acme", "stripe", "monnify"} {
		t.Run(provider, func(t *testing.T) {
			rr := f.post(provider, []byte(`{}`), "")
			if rr.Code != http.StatusInternalServerError {
				t.Errorf("Expected status 500, got %d", rr.Code)
			}
		})
	}
}

func TestWebhookAcknowledgesUnknownTransaction(t *testing.T) {
	f := newFixture(t, true)
	body := []byte(`{"data":{"reference":"missing","status":"success"}}`)

	rr := f.post("paystack", body, sign(body))
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	if len(f.emitter.events) != 2 {
		t.Errorf("Expected events to still be emitted, got %d", len(f.emitter.events))
	}
}

func TestWebhookWithoutStatusSkipsUpdate(t *testing.T) {
	f := newFixture(t, false)
	body := []byte(`{"data":{"reference":"r1"}}`)

	rr := f.post("paystack", body, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	tx, _ := f.store.GetByReference(context.Background(), "r1")
	if tx.Status != payment.StatusPending {
		t.Errorf("Expected status to stay pending, got %s", tx.Status)
	}
	if f.emitter.events[0].Status != StatusUnknown {
		t.Errorf("Expected unknown status on event, got %s", f.emitter.events[0].Status)
	}
}

func TestWebhookUsesPayloadPaidAt(t *testing.T) {
	f := newFixture(t, false)
	body := []byte(`{"data":{"reference":"r1","status":"success","paid_at":"2024-01-02T10:00:00.000Z"}}`)

	f.post("paystack", body, "")

	tx, _ := f.store.GetByReference(context.Background(), "r1")
	expected := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	if tx.PaidAt == nil || !tx.PaidAt.Equal(expected) {
		t.Errorf("Expected paid_at %v, got %v", expected, tx.PaidAt)
	}
}

func TestWebhookUnrecognizedStatusPassesThrough(t *testing.T) {
	f := newFixture(t, false)
	body := []byte(`{"data":{"reference":"r1","status":"Reversed"}}`)

	f.post("paystack", body, "")

	tx, _ := f.store.GetByReference(context.Background(), "r1")
	if tx.Status != "reversed" {
		t.Errorf("Expected lowercased passthrough status, got %s", tx.Status)
	}
	if tx.PaidAt != nil {
		t.Error("Expected no paid_at for a non-success status")
	}
}

func newLookupFixture(t *testing.T, api http.HandlerFunc) (*fixture, string) {
	t.Helper()

	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	const notificationURL = "https://paygate.test/webhooks/square"
	txStore := store.NewMemoryStore()
	manager := payment.NewManager(payment.Config{
		Default: "mollie",
		Providers: map[string]payment.DriverConfig{
			"mollie": {BaseURL: server.URL, Credentials: map[string]string{"api_key": "test_key"}},
			"square": {BaseURL: server.URL, Credentials: map[string]string{
				"access_token":          "at",
				"location_id":           "loc",
				"webhook_signature_key": "sig-key",
				"notification_url":      notificationURL,
			}},
		},
	}, payment.ManagerDeps{
		Factory: payment.NewDriverFactory(payment.Dependencies{Client: server.Client()}),
		Store:   txStore,
	})

	emitter := &captureEmitter{}
	controller := NewController(manager, emitter, nil, nil, Config{VerifySignatures: true})
	r := chi.NewRouter()
	r.Post("/webhooks/{provider}", controller.ServeHTTP)

	for ref, provider := range map[string]string{"MOLLIE_REF": "mollie", "SQUARE_REF": "square"} {
		txStore.Create(context.Background(), &store.Transaction{
			Reference: ref,
			Provider:  provider,
			Status:    payment.StatusPending,
			Currency:  "EUR",
			Email:     "a@b.com",
		})
	}

	return &fixture{router: r, store: txStore, emitter: emitter}, notificationURL
}

func TestWebhookMollieLooksUpPayment(t *testing.T) {
	f, _ := newLookupFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/payments/tr_1" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"id":"tr_1","status":"paid","method":"ideal","paidAt":"2024-01-02T10:00:00+00:00","amount":{"currency":"EUR","value":"10.00"},"metadata":{"reference":"MOLLIE_REF"}}`))
	})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/mollie", bytes.NewReader([]byte("id=tr_1")))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	tx, err := f.store.GetByReference(context.Background(), "MOLLIE_REF")
	if err != nil {
		t.Fatalf("Expected transaction, got %v", err)
	}
	if tx.Status != payment.StatusSuccess {
		t.Errorf("Expected status success, got %s", tx.Status)
	}
	expected := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	if tx.PaidAt == nil || !tx.PaidAt.Equal(expected) {
		t.Errorf("Expected paid_at %v, got %v", expected, tx.PaidAt)
	}
	if tx.Channel == nil || *tx.Channel != "ideal" {
		t.Errorf("Expected channel ideal, got %v", tx.Channel)
	}
	if f.emitter.events[0].Reference != "MOLLIE_REF" {
		t.Errorf("Expected event for MOLLIE_REF, got %s", f.emitter.events[0].Reference)
	}
}

func TestWebhookSquarePaymentLinkResolvesOrderReference(t *testing.T) {
	f, notificationURL := newLookupFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v2/orders/order_9" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"order":{"id":"order_9","reference_id":"SQUARE_REF","state":"OPEN"}}`))
	})

	body := []byte(`{"type":"payment.updated","data":{"object":{"payment":{"id":"pay_1","order_id":"order_9","status":"COMPLETED","source_type":"CARD","updated_at":"2024-01-02T10:00:00Z"}}}}`)
	mac := hmac.New(sha256.New, []byte("sig-key"))
	mac.Write([]byte(notificationURL))
	mac.Write(body)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/square", bytes.NewReader(body))
	req.Header.Set("x-square-hmacsha256-signature", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	tx, err := f.store.GetByReference(context.Background(), "SQUARE_REF")
	if err != nil {
		t.Fatalf("Expected transaction, got %v", err)
	}
	if tx.Status != payment.StatusSuccess {
		t.Errorf("Expected status success, got %s", tx.Status)
	}
	if tx.Channel == nil || *tx.Channel != "card" {
		t.Errorf("Expected channel card, got %v", tx.Channel)
	}
	if tx.PaidAt == nil {
		t.Error("Expected paid_at to be stamped")
	}
}
