package payment

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

type FlutterwaveDriver struct {
	baseDriver
	secretKey  string
	secretHash string
}

func NewFlutterwaveDriver(cfg DriverConfig, deps Dependencies) (Driver, error) {
	d := &FlutterwaveDriver{
		baseDriver: newBaseDriver("flutterwave", "FLW", "https://api.flutterwave.com/v3",
			[]string{"NGN", "USD", "EUR", "GBP", "KES", "UGX", "TZS", "GHS", "ZAR"}, cfg, deps),
	}

	var err error
	if d.secretKey, err = d.credential("secret_key"); err != nil {
		return nil, err
	}
	// The webhook hash is only needed to accept notifications.
	d.secretHash = cfg.Credential("secret_hash")
	d.paidAtPaths = []string{"data.created_at"}
	return d, nil
}

type flutterwaveCustomer struct {
	Email       string `json:"email"`
	Name        string `json:"name,omitempty"`
	PhoneNumber string `json:"phonenumber,omitempty"`
}

type flutterwavePaymentParams struct {
	TxRef          string              `json:"tx_ref"`
	Amount         string              `json:"amount"`
	Currency       string              `json:"currency"`
	RedirectURL    string              `json:"redirect_url,omitempty"`
	Customer       flutterwaveCustomer `json:"customer"`
	Meta           map[string]any      `json:"meta,omitempty"`
	PaymentOptions string              `json:"payment_options,omitempty"`
	Customizations map[string]string   `json:"customizations,omitempty"`
}

type flutterwaveEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (f *FlutterwaveDriver) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error) {
	reference := f.referenceFor(req)

	params := flutterwavePaymentParams{
		TxRef:       reference,
		Amount:      MajorString(req.Amount),
		Currency:    req.Currency,
		RedirectURL: f.callbackFor(req),
		Customer: flutterwaveCustomer{
			Email:       req.Email,
			Name:        stringValue(req.Customer["name"]),
			PhoneNumber: stringValue(req.Customer["phone"]),
		},
		Meta: req.Metadata,
	}
	if channels := f.mapChannels(req.Channels); channels != nil {
		params.PaymentOptions = strings.Join(channels, ",")
	}
	if req.Description != "" {
		params.Customizations = map[string]string{"description": req.Description}
	}

	headers := f.chargeHeaders(req)
	headers.Set("Authorization", "Bearer "+f.secretKey)

	resp, err := f.send(ctx, apiRequest{
		method:         http.MethodPost,
		path:           "/payments",
		body:           params,
		headers:        headers,
		idempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, f.chargeError("transport error", err)
	}

	var result struct {
		flutterwaveEnvelope
		Data struct {
			Link string `json:"link"`
		} `json:"data"`
	}
	if err := resp.decode(&result); err != nil {
		return nil, f.chargeError("invalid response", err)
	}
	if !resp.ok() || result.Status != "success" {
		return nil, f.chargeError("flutterwave error: "+result.Message, nil)
	}
	if result.Data.Link == "" {
		return nil, f.chargeError("response missing payment link", nil)
	}

	return &ChargeResponse{
		Reference:        reference,
		AuthorizationURL: result.Data.Link,
		AccessCode:       reference,
		Status:           StatusPending,
		Metadata:         req.Metadata,
		Provider:         f.name,
	}, nil
}

type flutterwaveTransaction struct {
	ID          int64          `json:"id"`
	TxRef       string         `json:"tx_ref"`
	Status      string         `json:"status"`
	Amount      float64        `json:"amount"`
	Currency    string         `json:"currency"`
	CreatedAt   string         `json:"created_at"`
	PaymentType string         `json:"payment_type"`
	Meta        map[string]any `json:"meta"`
	Customer    map[string]any `json:"customer"`
	Card        struct {
		Type   string `json:"type"`
		Issuer string `json:"issuer"`
	} `json:"card"`
}

// Verify accepts either a numeric transaction id or a tx_ref.
func (f *FlutterwaveDriver) Verify(ctx context.Context, id string) (*VerificationResponse, error) {
	path := "/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(id)
	if _, err := strconv.ParseInt(id, 10, 64); err == nil {
		path = "/transactions/" + id + "/verify"
	}

	resp, err := f.send(ctx, apiRequest{
		method:  http.MethodGet,
		path:    path,
		headers: bearer(f.secretKey),
	})
	if err != nil {
		return nil, f.verifyError("transport error", err)
	}

	var result struct {
		flutterwaveEnvelope
		Data flutterwaveTransaction `json:"data"`
	}
	if err := resp.decode(&result); err != nil {
		return nil, f.verifyError("invalid response", err)
	}
	if !resp.ok() || result.Status != "success" {
		return nil, f.verifyError("flutterwave error: "+result.Message, nil)
	}
	if result.Data.Status == "" {
		return nil, f.verifyError("response missing status", nil)
	}

	tx := result.Data
	reference := tx.TxRef
	if reference == "" {
		reference = id
	}

	status := f.normalize(tx.Status)
	paidAt := parseTime(tx.CreatedAt)
	if status != StatusSuccess {
		paidAt = nil
	}

	return &VerificationResponse{
		Reference: reference,
		Status:    status,
		Amount:    decimalValue(tx.Amount),
		Currency:  strings.ToUpper(tx.Currency),
		PaidAt:    paidAt,
		Channel:   tx.PaymentType,
		CardType:  tx.Card.Type,
		Bank:      tx.Card.Issuer,
		Customer:  tx.Customer,
		Metadata:  tx.Meta,
		Provider:  f.name,
	}, nil
}

// ValidateWebhook compares the verif-hash header to the configured secret hash.
func (f *FlutterwaveDriver) ValidateWebhook(_ context.Context, headers http.Header, _ []byte) bool {
	return constantTimeEqual(headers.Get("Verif-Hash"), f.secretHash)
}

func (f *FlutterwaveDriver) ExtractWebhookReference(payload map[string]any) string {
	return DigString(payload, "data.tx_ref", "txRef", "data.txRef")
}

func (f *FlutterwaveDriver) ExtractWebhookStatus(payload map[string]any) string {
	return DigString(payload, "data.status", "status")
}

func (f *FlutterwaveDriver) ExtractWebhookChannel(payload map[string]any) string {
	return DigString(payload, "data.payment_type", "event.type")
}

func (f *FlutterwaveDriver) HealthCheck(ctx context.Context) bool {
	return f.probe(ctx, apiRequest{
		method:  http.MethodGet,
		path:    "/banks/NG",
		headers: bearer(f.secretKey),
	})
}
