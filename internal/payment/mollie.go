package payment

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

type MollieDriver struct {
	baseDriver
	apiKey     string
	webhookURL string
}

func NewMollieDriver(cfg DriverConfig, deps Dependencies) (Driver, error) {
	d := &MollieDriver{
		baseDriver: newBaseDriver("mollie", "MOLLIE", "https://api.mollie.com/v2",
			[]string{"EUR", "USD", "GBP", "CHF", "PLN", "SEK", "DKK", "NOK"}, cfg, deps),
	}

	var err error
	if d.apiKey, err = d.credential("api_key"); err != nil {
		return nil, err
	}
	d.webhookURL = cfg.Credential("webhook_url")
	d.paidAtPaths = []string{"paidAt"}
	return d, nil
}

type mollieAmount struct {
	Currency string `json:"currency"`
	Value    string `json:"value"`
}

type mollieLink struct {
	Href string `json:"href"`
}

type molliePayment struct {
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	Amount      mollieAmount   `json:"amount"`
	Description string         `json:"description"`
	Method      string         `json:"method"`
	PaidAt      string         `json:"paidAt"`
	Metadata    map[string]any `json:"metadata"`
	Links       struct {
		Checkout mollieLink `json:"checkout"`
	} `json:"_links"`
}

type molliePaymentParams struct {
	Amount      mollieAmount   `json:"amount"`
	Description string         `json:"description"`
	RedirectURL string         `json:"redirectUrl,omitempty"`
	WebhookURL  string         `json:"webhookUrl,omitempty"`
	Method      []string       `json:"method,omitempty"`
	Metadata    map[string]any `json:"metadata"`
}

func (m *MollieDriver) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error) {
	reference := m.referenceFor(req)

	description := req.Description
	if description == "" {
		description = "Payment " + reference
	}

	metadata := map[string]any{"reference": reference}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	params := molliePaymentParams{
		Amount: mollieAmount{
			Currency: req.Currency,
			Value:    MajorString(req.Amount),
		},
		Description: description,
		RedirectURL: m.callbackFor(req),
		WebhookURL:  m.webhookURL,
		Method:      m.mapChannels(req.Channels),
		Metadata:    metadata,
	}

	headers := m.chargeHeaders(req)
	headers.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.send(ctx, apiRequest{
		method:         http.MethodPost,
		path:           "/payments",
		body:           params,
		headers:        headers,
		idempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, m.chargeError("transport error", err)
	}

	if !resp.ok() {
		return nil, m.chargeError("mollie error: "+resp.snippet(), nil)
	}
	var payment molliePayment
	if err := resp.decode(&payment); err != nil {
		return nil, m.chargeError("invalid response", err)
	}
	if payment.ID == "" {
		return nil, m.chargeError("response missing payment id", nil)
	}
	if payment.Links.Checkout.Href == "" {
		return nil, m.chargeError("payment missing checkout link", nil)
	}

	out := map[string]any{}
	for k, v := range req.Metadata {
		out[k] = v
	}
	out[MetaProviderID] = payment.ID

	return &ChargeResponse{
		Reference:        reference,
		AuthorizationURL: payment.Links.Checkout.Href,
		AccessCode:       payment.ID,
		Status:           StatusPending,
		Metadata:         out,
		Provider:         m.name,
	}, nil
}

func (m *MollieDriver) fetch(ctx context.Context, id string) (*molliePayment, error) {
	resp, err := m.send(ctx, apiRequest{
		method:  http.MethodGet,
		path:    "/payments/" + url.PathEscape(id),
		headers: bearer(m.apiKey),
	})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, fmt.Errorf("mollie error: status %d: %s", resp.status, resp.snippet())
	}
	var payment molliePayment
	if err := resp.decode(&payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// Verify takes a Mollie payment id (tr_...).
func (m *MollieDriver) Verify(ctx context.Context, id string) (*VerificationResponse, error) {
	payment, err := m.fetch(ctx, id)
	if err != nil {
		return nil, m.verifyError("failed to fetch payment", err)
	}
	if payment.Status == "" {
		return nil, m.verifyError("payment missing status", nil)
	}

	reference := stringValue(payment.Metadata["reference"])
	if reference == "" {
		reference = id
	}

	return &VerificationResponse{
		Reference: reference,
		Status:    m.normalize(payment.Status),
		Amount:    decimalValue(payment.Amount.Value),
		Currency:  strings.ToUpper(payment.Amount.Currency),
		PaidAt:    parseTime(payment.PaidAt),
		Channel:   payment.Method,
		Metadata:  payment.Metadata,
		Provider:  m.name,
	}, nil
}

// ValidateWebhook accepts the unsigned id notification only if the payment
// it names exists for this API key.
func (m *MollieDriver) ValidateWebhook(ctx context.Context, _ http.Header, body []byte) bool {
	id := m.ExtractWebhookReference(DecodePayload(body))
	if id == "" {
		return false
	}
	payment, err := m.fetch(ctx, id)
	if err != nil {
		return false
	}
	return payment.ID == id
}

// ResolveWebhook fetches the payment named by the notification id and
// reads the merchant reference from its metadata.
func (m *MollieDriver) ResolveWebhook(ctx context.Context, payload map[string]any) (*WebhookDetails, error) {
	id := m.ExtractWebhookReference(payload)
	if id == "" {
		return nil, fmt.Errorf("mollie webhook missing payment id")
	}
	payment, err := m.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	reference := stringValue(payment.Metadata["reference"])
	if reference == "" {
		reference = id
	}
	return &WebhookDetails{
		Reference: reference,
		Status:    payment.Status,
		Channel:   payment.Method,
		PaidAt:    parseTime(payment.PaidAt),
	}, nil
}

func (m *MollieDriver) ExtractWebhookReference(payload map[string]any) string {
	return DigString(payload, "id")
}

// ExtractWebhookStatus is normally empty: Mollie notifications carry only an id.
func (m *MollieDriver) ExtractWebhookStatus(payload map[string]any) string {
	return DigString(payload, "status")
}

func (m *MollieDriver) ExtractWebhookChannel(payload map[string]any) string {
	return DigString(payload, "method")
}

func (m *MollieDriver) HealthCheck(ctx context.Context) bool {
	return m.probe(ctx, apiRequest{
		method:  http.MethodGet,
		path:    "/methods",
		headers: bearer(m.apiKey),
	})
}
