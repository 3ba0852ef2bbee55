package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
)

type PaystackDriver struct {
	baseDriver
	secretKey string
}

func NewPaystackDriver(cfg DriverConfig, deps Dependencies) (Driver, error) {
	d := &PaystackDriver{
		baseDriver: newBaseDriver("paystack", "PAYSTACK", "https://api.paystack.co",
			[]string{"NGN", "GHS", "ZAR", "KES", "USD"}, cfg, deps),
	}

	var err error
	if d.secretKey, err = d.credential("secret_key"); err != nil {
		return nil, err
	}
	d.paidAtPaths = []string{"data.paid_at", "data.paidAt"}
	return d, nil
}

type paystackInitializeParams struct {
	Email       string         `json:"email"`
	Amount      int64          `json:"amount"`
	Currency    string         `json:"currency,omitempty"`
	Reference   string         `json:"reference"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Channels    []string       `json:"channels,omitempty"`
	Split       map[string]any `json:"split,omitempty"`
}

type paystackInitializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

func (p *PaystackDriver) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error) {
	reference := p.referenceFor(req)

	metadata := map[string]any{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if len(req.CustomFields) > 0 {
		metadata["custom_fields"] = req.CustomFields
	}

	params := paystackInitializeParams{
		Email:       req.Email,
		Amount:      ToMinorUnits(req.Amount),
		Currency:    req.Currency,
		Reference:   reference,
		CallbackURL: p.callbackFor(req),
		Metadata:    metadata,
		Channels:    p.mapChannels(req.Channels),
		Split:       req.Split,
	}

	headers := p.chargeHeaders(req)
	headers.Set("Authorization", "Bearer "+p.secretKey)

	resp, err := p.send(ctx, apiRequest{
		method:         http.MethodPost,
		path:           "/transaction/initialize",
		body:           params,
		headers:        headers,
		idempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, p.chargeError("transport error", err)
	}

	var result paystackInitializeResponse
	if err := resp.decode(&result); err != nil {
		return nil, p.chargeError("invalid response", err)
	}
	if !resp.ok() || !result.Status {
		return nil, p.chargeError("paystack error: "+result.Message, nil)
	}
	if result.Data.AuthorizationURL == "" {
		return nil, p.chargeError("response missing authorization_url", nil)
	}

	if result.Data.Reference != "" {
		reference = result.Data.Reference
	}

	return &ChargeResponse{
		Reference:        reference,
		AuthorizationURL: result.Data.AuthorizationURL,
		AccessCode:       result.Data.AccessCode,
		Status:           StatusPending,
		Metadata:         req.Metadata,
		Provider:         p.name,
	}, nil
}

type paystackVerifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Status        string         `json:"status"`
		Reference     string         `json:"reference"`
		Amount        int64          `json:"amount"`
		Currency      string         `json:"currency"`
		PaidAt        string         `json:"paid_at"`
		Channel       string         `json:"channel"`
		Metadata      any            `json:"metadata"`
		Customer      map[string]any `json:"customer"`
		Authorization struct {
			CardType string `json:"card_type"`
			Bank     string `json:"bank"`
		} `json:"authorization"`
	} `json:"data"`
}

func (p *PaystackDriver) Verify(ctx context.Context, id string) (*VerificationResponse, error) {
	resp, err := p.send(ctx, apiRequest{
		method:  http.MethodGet,
		path:    "/transaction/verify/" + url.PathEscape(id),
		headers: bearer(p.secretKey),
	})
	if err != nil {
		return nil, p.verifyError("transport error", err)
	}

	var result paystackVerifyResponse
	if err := resp.decode(&result); err != nil {
		return nil, p.verifyError("invalid response", err)
	}
	if !resp.ok() || !result.Status {
		return nil, p.verifyError("paystack error: "+result.Message, nil)
	}
	if result.Data.Status == "" {
		return nil, p.verifyError("response missing status", nil)
	}

	reference := result.Data.Reference
	if reference == "" {
		reference = id
	}

	return &VerificationResponse{
		Reference: reference,
		Status:    p.normalize(result.Data.Status),
		Amount:    FromMinorUnits(result.Data.Amount),
		Currency:  strings.ToUpper(result.Data.Currency),
		PaidAt:    parseTime(result.Data.PaidAt),
		Channel:   result.Data.Channel,
		CardType:  strings.TrimSpace(result.Data.Authorization.CardType),
		Bank:      result.Data.Authorization.Bank,
		Customer:  result.Data.Customer,
		Metadata:  mapValue(result.Data.Metadata),
		Provider:  p.name,
	}, nil
}

// ValidateWebhook checks x-paystack-signature: HMAC-SHA512 hex of the raw body.
func (p *PaystackDriver) ValidateWebhook(_ context.Context, headers http.Header, body []byte) bool {
	signature := headers.Get("X-Paystack-Signature")
	if signature == "" {
		return false
	}

	mac := hmac.New(sha512.New, []byte(p.secretKey))
	mac.Write(body)
	expectedSignature := hex.EncodeToString(mac.Sum(nil))
	return constantTimeEqual(strings.ToLower(signature), expectedSignature)
}

func (p *PaystackDriver) ExtractWebhookReference(payload map[string]any) string {
	return DigString(payload, "data.reference")
}

func (p *PaystackDriver) ExtractWebhookStatus(payload map[string]any) string {
	return DigString(payload, "data.status")
}

func (p *PaystackDriver) ExtractWebhookChannel(payload map[string]any) string {
	return DigString(payload, "data.channel")
}

func (p *PaystackDriver) HealthCheck(ctx context.Context) bool {
	return p.probe(ctx, apiRequest{
		method:  http.MethodGet,
		path:    "/bank?perPage=1",
		headers: bearer(p.secretKey),
	})
}
