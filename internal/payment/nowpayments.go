package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// nowPaymentsInvoicePrefix marks a stored provider id as an invoice id.
// Invoices are verified through the payments created against them.
const nowPaymentsInvoicePrefix = "invoice:"

const metaInvoiceID = "invoice_id"

type NowPaymentsDriver struct {
	baseDriver
	apiKey    string
	ipnSecret string
	email     string
	password  string

	mu        sync.Mutex
	jwt       string
	expiresAt time.Time
}

func NewNowPaymentsDriver(cfg DriverConfig, deps Dependencies) (Driver, error) {
	d := &NowPaymentsDriver{
		baseDriver: newBaseDriver("nowpayments", "NOWP", "https://api.nowpayments.io/v1",
			[]string{"USD", "EUR", "GBP", "BTC", "ETH", "USDT"}, cfg, deps),
	}

	var err error
	if d.apiKey, err = d.credential("api_key"); err != nil {
		return nil, err
	}
	d.ipnSecret = cfg.Credential("ipn_secret")
	d.email = cfg.Credential("email")
	d.password = cfg.Credential("password")
	d.paidAtPaths = []string{"updated_at"}
	return d, nil
}

func (n *NowPaymentsDriver) headers(req *ChargeRequest) http.Header {
	var h http.Header
	if req != nil {
		h = n.chargeHeaders(req)
	} else {
		h = make(http.Header)
	}
	h.Set("X-Api-Key", n.apiKey)
	return h
}

type nowPaymentsInvoiceParams struct {
	PriceAmount      string `json:"price_amount"`
	PriceCurrency    string `json:"price_currency"`
	OrderID          string `json:"order_id"`
	OrderDescription string `json:"order_description,omitempty"`
	IPNCallbackURL   string `json:"ipn_callback_url,omitempty"`
	SuccessURL       string `json:"success_url,omitempty"`
	CancelURL        string `json:"cancel_url,omitempty"`
}

func (n *NowPaymentsDriver) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error) {
	reference := n.referenceFor(req)

	params := nowPaymentsInvoiceParams{
		PriceAmount:      MajorString(req.Amount),
		PriceCurrency:    strings.ToLower(req.Currency),
		OrderID:          reference,
		OrderDescription: req.Description,
		IPNCallbackURL:   n.cfg.Credential("ipn_callback_url"),
		SuccessURL:       n.callbackFor(req),
		CancelURL:        n.cfg.Credential("cancel_url"),
	}

	resp, err := n.send(ctx, apiRequest{
		method:         http.MethodPost,
		path:           "/invoice",
		body:           params,
		headers:        n.headers(req),
		idempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, n.chargeError("transport error", err)
	}

	var result struct {
		ID         string `json:"id"`
		InvoiceURL string `json:"invoice_url"`
		Message    string `json:"message"`
	}
	if err := resp.decode(&result); err != nil {
		return nil, n.chargeError("invalid response", err)
	}
	if !resp.ok() || result.ID == "" {
		return nil, n.chargeError("nowpayments error: "+result.Message, nil)
	}
	if result.InvoiceURL == "" {
		return nil, n.chargeError("response missing invoice_url", nil)
	}

	metadata := map[string]any{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata[MetaProviderID] = nowPaymentsInvoicePrefix + result.ID
	metadata[metaInvoiceID] = result.ID

	return &ChargeResponse{
		Reference:        reference,
		AuthorizationURL: result.InvoiceURL,
		AccessCode:       result.ID,
		Status:           StatusPending,
		Metadata:         metadata,
		Provider:         n.name,
	}, nil
}

// token exchanges the account email and password for the JWT the payment
// listing requires. Tokens live five minutes.
func (n *NowPaymentsDriver) token(ctx context.Context) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.jwt != "" && time.Now().Before(n.expiresAt) {
		return n.jwt, nil
	}

	resp, err := n.send(ctx, apiRequest{
		method: http.MethodPost,
		path:   "/auth",
		body:   map[string]string{"email": n.email, "password": n.password},
	})
	if err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", &statusError{
			status: resp.status,
			err:    &VerificationError{Provider: n.name, Message: "authentication failed: " + resp.snippet()},
		}
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := resp.decode(&result); err != nil {
		return "", err
	}
	if result.Token == "" {
		return "", &VerificationError{Provider: n.name, Message: "authentication failed: response missing token"}
	}

	n.jwt = result.Token
	n.expiresAt = time.Now().Add(4 * time.Minute)
	return n.jwt, nil
}

type nowPaymentsPayment struct {
	PaymentID     any    `json:"payment_id"`
	InvoiceID     any    `json:"invoice_id"`
	PaymentStatus string `json:"payment_status"`
	PriceAmount   any    `json:"price_amount"`
	PriceCurrency string `json:"price_currency"`
	PayCurrency   string `json:"pay_currency"`
	OrderID       string `json:"order_id"`
	UpdatedAt     string `json:"updated_at"`
}

// Verify takes a NowPayments payment id, or an invoice id carrying the
// invoice: prefix as recorded by Charge.
func (n *NowPaymentsDriver) Verify(ctx context.Context, id string) (*VerificationResponse, error) {
	if invoiceID, ok := strings.CutPrefix(id, nowPaymentsInvoicePrefix); ok {
		return n.verifyInvoice(ctx, invoiceID)
	}

	resp, err := n.send(ctx, apiRequest{
		method:  http.MethodGet,
		path:    "/payment/" + url.PathEscape(id),
		headers: n.headers(nil),
	})
	if err != nil {
		return nil, n.verifyError("transport error", err)
	}

	var result struct {
		nowPaymentsPayment
		Message string `json:"message"`
	}
	if err := resp.decode(&result); err != nil {
		return nil, n.verifyError("invalid response", err)
	}
	if !resp.ok() {
		return nil, n.verifyError("nowpayments error: "+result.Message, nil)
	}
	return n.verification(&result.nowPaymentsPayment, id)
}

// verifyInvoice reports the most recently updated payment made against the
// invoice. An invoice nobody has paid into yet is pending.
func (n *NowPaymentsDriver) verifyInvoice(ctx context.Context, invoiceID string) (*VerificationResponse, error) {
	headers := n.headers(nil)
	if n.email != "" && n.password != "" {
		token, err := n.token(ctx)
		if err != nil {
			return nil, n.verifyError("authentication failed", err)
		}
		headers.Set("Authorization", "Bearer "+token)
	}

	query := url.Values{
		"invoiceId": {invoiceID},
		"limit":     {"1"},
		"page":      {"0"},
		"sortBy":    {"updated_at"},
		"orderBy":   {"desc"},
	}
	resp, err := n.send(ctx, apiRequest{
		method:  http.MethodGet,
		path:    "/payment/?" + query.Encode(),
		headers: headers,
	})
	if err != nil {
		return nil, n.verifyError("transport error", err)
	}

	var result struct {
		Data    []nowPaymentsPayment `json:"data"`
		Message string               `json:"message"`
	}
	if err := resp.decode(&result); err != nil {
		return nil, n.verifyError("invalid response", err)
	}
	if !resp.ok() {
		return nil, n.verifyError("nowpayments error: "+result.Message, nil)
	}

	if len(result.Data) == 0 {
		return &VerificationResponse{
			Reference: invoiceID,
			Status:    StatusPending,
			Metadata:  map[string]any{metaInvoiceID: invoiceID},
			Provider:  n.name,
		}, nil
	}
	return n.verification(&result.Data[0], invoiceID)
}

func (n *NowPaymentsDriver) verification(p *nowPaymentsPayment, id string) (*VerificationResponse, error) {
	if p.PaymentStatus == "" {
		return nil, n.verifyError("response missing payment_status", nil)
	}

	status := n.normalize(p.PaymentStatus)
	reference := p.OrderID
	if reference == "" {
		reference = id
	}

	paidAt := parseTime(p.UpdatedAt)
	if status != StatusSuccess {
		paidAt = nil
	}

	metadata := map[string]any{MetaProviderID: stringValue(p.PaymentID)}
	if invoice := stringValue(p.InvoiceID); invoice != "" {
		metadata[metaInvoiceID] = invoice
	}

	return &VerificationResponse{
		Reference: reference,
		Status:    status,
		Amount:    decimalValue(p.PriceAmount),
		Currency:  strings.ToUpper(p.PriceCurrency),
		PaidAt:    paidAt,
		Channel:   strings.ToLower(p.PayCurrency),
		Metadata:  metadata,
		Provider:  n.name,
	}, nil
}

// ValidateWebhook checks x-nowpayments-sig: HMAC-SHA512 hex of the raw body
// keyed by the IPN secret.
func (n *NowPaymentsDriver) ValidateWebhook(_ context.Context, headers http.Header, body []byte) bool {
	signature := headers.Get("X-Nowpayments-Sig")
	if signature == "" || n.ipnSecret == "" {
		return false
	}

	mac := hmac.New(sha512.New, []byte(n.ipnSecret))
	mac.Write(body)
	return constantTimeEqual(strings.ToLower(signature), hex.EncodeToString(mac.Sum(nil)))
}

func (n *NowPaymentsDriver) ExtractWebhookReference(payload map[string]any) string {
	return DigString(payload, "order_id")
}

func (n *NowPaymentsDriver) ExtractWebhookStatus(payload map[string]any) string {
	return DigString(payload, "payment_status")
}

func (n *NowPaymentsDriver) ExtractWebhookChannel(payload map[string]any) string {
	return strings.ToLower(DigString(payload, "pay_currency"))
}

func (n *NowPaymentsDriver) HealthCheck(ctx context.Context) bool {
	return n.probe(ctx, apiRequest{
		method: http.MethodGet,
		path:   "/status",
	})
}
