package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Mekazstan/paygate/internal/events"
	"github.com/Mekazstan/paygate/internal/payment"
	"github.com/Mekazstan/paygate/internal/store"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// StatusUnknown marks a payload that carries no status field at all. It is
// distinct from an unrecognized status, which normalizes to itself.
const StatusUnknown = "unknown"

const defaultMaxBodyBytes = 1 << 20

type PaymentService interface {
	Driver(name string) (payment.Driver, error)
	Statuses() *payment.StatusNormalizer
	UpdateTransaction(ctx context.Context, reference string, upd store.StatusUpdate) error
}

type Emitter interface {
	Emit(ctx context.Context, ev events.Event)
}

type Observer interface {
	ObserveWebhook(provider, result string)
}

type Config struct {
	VerifySignatures bool
	MaxBodyBytes     int64
}

type Controller struct {
	payments PaymentService
	emitter  Emitter
	observer Observer
	logger   *zap.Logger
	cfg      Config
	now      func() time.Time
}

func NewController(payments PaymentService, emitter Emitter, observer Observer, logger *zap.Logger, cfg Config) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Controller{
		payments: payments,
		emitter:  emitter,
		observer: observer,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Result is what processing extracted from one notification.
type Result struct {
	Provider  string
	Reference string
	Status    string
	Channel   string
	PaidAt    *time.Time
	Payload   map[string]any
}

// ServeHTTP expects the provider in the {provider} route parameter.
func (c *Controller) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(chi.URLParam(r, "provider"))

	drv, err := c.payments.Driver(provider)
	if err != nil {
		c.logger.Error("webhook driver unavailable", zap.String("provider", provider), zap.Error(err))
		c.observe(provider, "driver_error")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "payment driver unavailable"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, c.cfg.MaxBodyBytes))
	if err != nil {
		c.logger.Error("failed to read webhook body", zap.String("provider", provider), zap.Error(err))
		c.observe(provider, "read_error")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	if c.cfg.VerifySignatures && !drv.ValidateWebhook(r.Context(), r.Header, body) {
		c.logger.Warn("webhook signature rejected",
			zap.String("provider", provider),
			zap.String("remote_addr", r.RemoteAddr))
		c.observe(provider, "invalid_signature")
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid signature"})
		return
	}

	c.Process(r.Context(), provider, drv, body)
	c.observe(provider, "processed")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Process runs the post-authentication steps. Failures are logged, never
// returned, so an authenticated webhook is always acknowledged.
func (c *Controller) Process(ctx context.Context, provider string, drv payment.Driver, body []byte) (res Result) {
	log := c.logger.With(zap.String("provider", provider))
	defer func() {
		if r := recover(); r != nil {
			log.Error("webhook processing panicked", zap.Any("panic", r))
		}
	}()

	payload := payment.DecodePayload(body)
	res = c.extract(ctx, log, provider, drv, payload)
	log = log.With(zap.String("reference", res.Reference), zap.String("status", res.Status))

	if err := c.updateTransaction(ctx, res); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Info("webhook for unknown transaction")
		} else {
			log.Error("failed to update transaction from webhook", zap.Error(err))
		}
	}

	c.emit(ctx, res)
	log.Info("webhook processed")
	return res
}

// extract reads reference, status and channel from the payload. Drivers
// implementing payment.WebhookResolver are asked first; payload fields fill
// whatever the lookup leaves empty.
func (c *Controller) extract(ctx context.Context, log *zap.Logger, provider string, drv payment.Driver, payload map[string]any) Result {
	res := Result{Provider: provider, Payload: payload}

	var raw string
	if resolver, ok := drv.(payment.WebhookResolver); ok {
		details, err := resolver.ResolveWebhook(ctx, payload)
		if err != nil {
			log.Warn("webhook lookup failed", zap.Error(err))
		} else {
			res.Reference = details.Reference
			res.Channel = details.Channel
			res.PaidAt = details.PaidAt
			raw = details.Status
		}
	}

	if res.Reference == "" {
		res.Reference = drv.ExtractWebhookReference(payload)
	}
	if res.Channel == "" {
		res.Channel = drv.ExtractWebhookChannel(payload)
	}
	if raw == "" {
		raw = drv.ExtractWebhookStatus(payload)
	}

	if strings.TrimSpace(raw) == "" {
		res.Status = StatusUnknown
	} else {
		res.Status = c.payments.Statuses().Normalize(raw, provider)
	}

	if res.Status != payment.StatusSuccess {
		res.PaidAt = nil
		return res
	}
	if res.PaidAt == nil {
		res.PaidAt = drv.ExtractWebhookPaidAt(payload)
	}
	if res.PaidAt == nil {
		now := c.now().UTC()
		res.PaidAt = &now
	}
	return res
}

func (c *Controller) updateTransaction(ctx context.Context, res Result) error {
	if res.Reference == "" || res.Status == StatusUnknown {
		return nil
	}
	upd := store.StatusUpdate{Status: res.Status, PaidAt: res.PaidAt}
	if res.Channel != "" {
		channel := res.Channel
		upd.Channel = &channel
	}
	if err := c.payments.UpdateTransaction(ctx, res.Reference, upd); err != nil {
		return fmt.Errorf("update %s: %w", res.Reference, err)
	}
	return nil
}

func (c *Controller) emit(ctx context.Context, res Result) {
	if c.emitter == nil {
		return
	}
	for _, name := range []string{events.ProviderWebhookEvent(res.Provider), events.WebhookReceived} {
		c.emitter.Emit(ctx, events.Event{
			Name:      name,
			Provider:  res.Provider,
			Reference: res.Reference,
			Status:    res.Status,
			Payload:   res.Payload,
		})
	}
}

func (c *Controller) observe(provider, result string) {
	if c.observer != nil {
		c.observer.ObserveWebhook(provider, result)
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
