package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const IdempotencyHeader = "Idempotency-Key"

// HTTPClient is the outbound transport. *http.Client satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Driver is implemented once per payment provider.
type Driver interface {
	Name() string
	Charge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error)
	Verify(ctx context.Context, id string) (*VerificationResponse, error)

	// ValidateWebhook authenticates a notification against the exact raw body.
	ValidateWebhook(ctx context.Context, headers http.Header, body []byte) bool
	ExtractWebhookReference(payload map[string]any) string
	ExtractWebhookStatus(payload map[string]any) string
	ExtractWebhookChannel(payload map[string]any) string
	ExtractWebhookPaidAt(payload map[string]any) *time.Time

	ResolveVerificationID(reference, providerID string) string
	HealthCheck(ctx context.Context) bool
	IsCurrencySupported(code string) bool
	SupportedCurrencies() []string
	GenerateReference(prefix string) string
}

// WebhookDetails is a notification's state as reported by the provider API.
// Status is the raw provider status.
type WebhookDetails struct {
	Reference string
	Status    string
	Channel   string
	PaidAt    *time.Time
}

// WebhookResolver is implemented by drivers whose notifications omit the
// merchant reference or the status, so both must be looked up upstream.
type WebhookResolver interface {
	ResolveWebhook(ctx context.Context, payload map[string]any) (*WebhookDetails, error)
}

// DriverConfig is the per-provider credential and currency bag.
type DriverConfig struct {
	// Driver names the implementation; defaults to the provider name.
	Driver      string
	Enabled     *bool
	BaseURL     string
	CallbackURL string
	Currencies  []string
	Credentials map[string]string
}

func (c DriverConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c DriverConfig) Credential(key string) string {
	return strings.TrimSpace(c.Credentials[key])
}

// Dependencies are shared by every driver a factory builds.
type Dependencies struct {
	Client   HTTPClient
	Logger   *zap.Logger
	Channels *ChannelMapper
	Statuses *StatusNormalizer
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Client == nil {
		d.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Channels == nil {
		d.Channels = DefaultChannelMapper()
	}
	if d.Statuses == nil {
		d.Statuses = DefaultStatusNormalizer()
	}
	return d
}

// baseDriver holds the behavior every provider shares. Concrete drivers
// embed it and supply payload shaping only.
type baseDriver struct {
	name        string
	prefix      string
	baseURL     string
	callbackURL string
	currencies  []string
	paidAtPaths []string

	cfg      DriverConfig
	client   HTTPClient
	logger   *zap.Logger
	channels *ChannelMapper
	statuses *StatusNormalizer
}

func newBaseDriver(name, prefix, defaultBaseURL string, defaultCurrencies []string, cfg DriverConfig, deps Dependencies) baseDriver {
	deps = deps.withDefaults()

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	currencies := cfg.Currencies
	if len(currencies) == 0 {
		currencies = defaultCurrencies
	}
	upper := make([]string, 0, len(currencies))
	for _, c := range currencies {
		upper = append(upper, strings.ToUpper(strings.TrimSpace(c)))
	}

	return baseDriver{
		name:        name,
		prefix:      prefix,
		baseURL:     strings.TrimRight(baseURL, "/"),
		callbackURL: cfg.CallbackURL,
		currencies:  upper,
		cfg:         cfg,
		client:      deps.Client,
		logger:      deps.Logger.With(zap.String("provider", name)),
		channels:    deps.Channels,
		statuses:    deps.Statuses,
	}
}

func (d *baseDriver) Name() string { return d.name }

// credential fails with InvalidConfigurationError when key is unset.
func (d *baseDriver) credential(key string) (string, error) {
	v := d.cfg.Credential(key)
	if v == "" {
		return "", &InvalidConfigurationError{Provider: d.name, Field: key}
	}
	return v, nil
}

func (d *baseDriver) IsCurrencySupported(code string) bool {
	code = strings.TrimSpace(code)
	for _, c := range d.currencies {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}

func (d *baseDriver) SupportedCurrencies() []string {
	return append([]string(nil), d.currencies...)
}

func (d *baseDriver) GenerateReference(prefix string) string {
	if prefix == "" {
		prefix = d.prefix
	}
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	return fmt.Sprintf("%s_%d_%s", strings.ToUpper(prefix), time.Now().Unix(), token)
}

func (d *baseDriver) ResolveVerificationID(reference, providerID string) string {
	if strings.TrimSpace(providerID) != "" {
		return providerID
	}
	return reference
}

func (d *baseDriver) ExtractWebhookPaidAt(payload map[string]any) *time.Time {
	return parseTime(DigString(payload, d.paidAtPaths...))
}

func (d *baseDriver) referenceFor(req *ChargeRequest) string {
	if req.Reference != "" {
		return req.Reference
	}
	return d.GenerateReference("")
}

func (d *baseDriver) callbackFor(req *ChargeRequest) string {
	if req.CallbackURL != "" {
		return req.CallbackURL
	}
	return d.callbackURL
}

func (d *baseDriver) mapChannels(channels []string) []string {
	return d.channels.MapChannels(channels, d.name)
}

func (d *baseDriver) normalize(raw string) string {
	return d.statuses.Normalize(raw, d.name)
}

// chargeHeaders starts the outbound header set from caller-supplied headers.
func (d *baseDriver) chargeHeaders(req *ChargeRequest) http.Header {
	h := make(http.Header, len(req.Headers)+2)
	for k, v := range req.Headers {
		h.Set(k, v)
	}
	return h
}

type apiRequest struct {
	method  string
	path    string
	body    any
	form    url.Values
	headers http.Header
	// idempotencyKey is sent as Idempotency-Key unless headers already carry one.
	idempotencyKey string
}

type apiResponse struct {
	status int
	body   []byte
}

func (r *apiResponse) ok() bool { return r.status >= 200 && r.status < 300 }

func (r *apiResponse) decode(out any) error {
	if err := json.Unmarshal(r.body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (r *apiResponse) snippet() string {
	const max = 512
	if len(r.body) > max {
		return string(r.body[:max])
	}
	return string(r.body)
}

func applyIdempotency(h http.Header, key string) {
	if key == "" || h.Get(IdempotencyHeader) != "" {
		return
	}
	h.Set(IdempotencyHeader, key)
}

func (d *baseDriver) send(ctx context.Context, ar apiRequest) (*apiResponse, error) {
	target := ar.path
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = d.baseURL + ar.path
	}

	var body io.Reader
	contentType := ""
	switch {
	case ar.form != nil:
		body = strings.NewReader(ar.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case ar.body != nil:
		payload, err := json.Marshal(ar.body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, ar.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, vs := range ar.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	applyIdempotency(req.Header, ar.idempotencyKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	d.logger.Debug("provider api call",
		zap.String("method", ar.method),
		zap.String("path", ar.path),
		zap.Int("status", resp.StatusCode))

	return &apiResponse{status: resp.StatusCode, body: raw}, nil
}

// probe treats any response below 500 as reachable.
func (d *baseDriver) probe(ctx context.Context, ar apiRequest) bool {
	resp, err := d.send(ctx, ar)
	if err != nil {
		d.logger.Warn("health check failed", zap.Error(err))
		return false
	}
	return resp.status < http.StatusInternalServerError
}

// statusError records the HTTP status of a provider response that was
// answered but rejected.
type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string { return e.err.Error() }

func (e *statusError) Unwrap() error { return e.err }

// reachable reports whether err still came from a provider answering below 500.
func reachable(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.status < http.StatusInternalServerError
}

func (d *baseDriver) chargeError(msg string, err error) error {
	return &ChargeError{Provider: d.name, Message: msg, Err: err}
}

func (d *baseDriver) verifyError(msg string, err error) error {
	return &VerificationError{Provider: d.name, Message: msg, Err: err}
}

func constantTimeEqual(a, b string) bool {
	return a != "" && b != "" && hmac.Equal([]byte(a), []byte(b))
}

func bearer(token string) http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+token)
	return h
}
