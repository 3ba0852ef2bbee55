package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PayPalDriver struct {
	baseDriver
	clientID     string
	clientSecret string
	webhookID    string
	cancelURL    string

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

func NewPayPalDriver(cfg DriverConfig, deps Dependencies) (Driver, error) {
	d := &PayPalDriver{
		baseDriver: newBaseDriver("paypal", "PAYPAL", "https://api-m.sandbox.paypal.com",
			[]string{"USD", "EUR", "GBP", "CAD", "AUD", "JPY"}, cfg, deps),
	}

	var err error
	if d.clientID, err = d.credential("client_id"); err != nil {
		return nil, err
	}
	if d.clientSecret, err = d.credential("client_secret"); err != nil {
		return nil, err
	}
	d.webhookID = cfg.Credential("webhook_id")
	d.cancelURL = cfg.Credential("cancel_url")
	d.paidAtPaths = []string{"resource.create_time", "create_time"}
	return d, nil
}

func (p *PayPalDriver) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accessToken != "" && time.Now().Before(p.expiresAt) {
		return p.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/oauth2/token",
		strings.NewReader(url.Values{"grant_type": {"client_credentials"}}.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(p.clientID, p.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		AccessToken      string `json:"access_token"`
		ExpiresIn        int64  `json:"expires_in"`
		ErrorDescription string `json:"error_description"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)
	if resp.StatusCode != http.StatusOK {
		return "", &statusError{
			status: resp.StatusCode,
			err:    &VerificationError{Provider: p.name, Message: "oauth failed: " + result.ErrorDescription},
		}
	}
	if decodeErr != nil {
		return "", decodeErr
	}
	if result.AccessToken == "" {
		return "", &VerificationError{Provider: p.name, Message: "oauth failed: response missing access token"}
	}

	ttl := time.Duration(result.ExpiresIn) * time.Second
	if ttl <= time.Minute {
		ttl = 5 * time.Minute
	}
	p.accessToken = result.AccessToken
	p.expiresAt = time.Now().Add(ttl - 30*time.Second)
	return p.accessToken, nil
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalPurchaseUnit struct {
	ReferenceID string       `json:"reference_id"`
	CustomID    string       `json:"custom_id,omitempty"`
	Description string       `json:"description,omitempty"`
	Amount      paypalAmount `json:"amount"`
}

type paypalOrderParams struct {
	Intent             string               `json:"intent"`
	PurchaseUnits      []paypalPurchaseUnit `json:"purchase_units"`
	ApplicationContext map[string]string    `json:"application_context,omitempty"`
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalOrder struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	CreateTime    string `json:"create_time"`
	UpdateTime    string `json:"update_time"`
	PurchaseUnits []struct {
		ReferenceID string       `json:"reference_id"`
		CustomID    string       `json:"custom_id"`
		Amount      paypalAmount `json:"amount"`
		Payments    struct {
			Captures []struct {
				ID         string       `json:"id"`
				Status     string       `json:"status"`
				Amount     paypalAmount `json:"amount"`
				CreateTime string       `json:"create_time"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
	Payer struct {
		EmailAddress string `json:"email_address"`
		PayerID      string `json:"payer_id"`
	} `json:"payer"`
	Links   []paypalLink `json:"links"`
	Message string       `json:"message"`
}

func (o *paypalOrder) approveLink() string {
	for _, l := range o.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}

func (p *PayPalDriver) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error) {
	reference := p.referenceFor(req)

	token, err := p.token(ctx)
	if err != nil {
		return nil, p.chargeError("authentication failed", err)
	}

	params := paypalOrderParams{
		Intent: "CAPTURE",
		PurchaseUnits: []paypalPurchaseUnit{{
			ReferenceID: reference,
			CustomID:    reference,
			Description: req.Description,
			Amount: paypalAmount{
				CurrencyCode: req.Currency,
				Value:        MajorString(req.Amount),
			},
		}},
	}
	if returnURL := p.callbackFor(req); returnURL != "" {
		cancelURL := p.cancelURL
		if cancelURL == "" {
			cancelURL = returnURL
		}
		params.ApplicationContext = map[string]string{
			"return_url": returnURL,
			"cancel_url": cancelURL,
		}
	}

	requestID := req.IdempotencyKey
	if requestID == "" {
		requestID = uuid.NewString()
	}
	headers := p.chargeHeaders(req)
	headers.Set("Authorization", "Bearer "+token)
	headers.Set("PayPal-Request-Id", requestID)

	resp, err := p.send(ctx, apiRequest{
		method:         http.MethodPost,
		path:           "/v2/checkout/orders",
		body:           params,
		headers:        headers,
		idempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, p.chargeError("transport error", err)
	}

	var order paypalOrder
	if err := resp.decode(&order); err != nil {
		return nil, p.chargeError("invalid response", err)
	}
	if !resp.ok() || order.ID == "" {
		return nil, p.chargeError("paypal error: "+order.Message, nil)
	}
	link := order.approveLink()
	if link == "" {
		return nil, p.chargeError("order missing approve link", nil)
	}

	metadata := map[string]any{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata[MetaProviderID] = order.ID
	metadata[MetaOrderID] = order.ID

	return &ChargeResponse{
		Reference:        reference,
		AuthorizationURL: link,
		AccessCode:       order.ID,
		Status:           StatusPending,
		Metadata:         metadata,
		Provider:         p.name,
	}, nil
}

func (p *PayPalDriver) getOrder(ctx context.Context, token, id string) (*paypalOrder, error) {
	resp, err := p.send(ctx, apiRequest{
		method:  http.MethodGet,
		path:    "/v2/checkout/orders/" + url.PathEscape(id),
		headers: bearer(token),
	})
	if err != nil {
		return nil, err
	}
	var order paypalOrder
	if err := resp.decode(&order); err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, p.verifyError("paypal error: "+order.Message, nil)
	}
	return &order, nil
}

func (p *PayPalDriver) captureOrder(ctx context.Context, token, id string) (*paypalOrder, error) {
	headers := bearer(token)
	headers.Set("PayPal-Request-Id", "capture-"+id)

	resp, err := p.send(ctx, apiRequest{
		method:  http.MethodPost,
		path:    "/v2/checkout/orders/" + url.PathEscape(id) + "/capture",
		body:    map[string]any{},
		headers: headers,
	})
	if err != nil {
		return nil, err
	}
	var order paypalOrder
	if err := resp.decode(&order); err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, p.verifyError("capture failed: "+order.Message, nil)
	}
	return &order, nil
}

// Verify fetches the order and captures it once the payer has approved.
func (p *PayPalDriver) Verify(ctx context.Context, id string) (*VerificationResponse, error) {
	token, err := p.token(ctx)
	if err != nil {
		return nil, p.verifyError("authentication failed", err)
	}

	order, err := p.getOrder(ctx, token, id)
	if err != nil {
		return nil, p.verifyError("failed to fetch order", err)
	}
	if strings.EqualFold(order.Status, "APPROVED") {
		captured, err := p.captureOrder(ctx, token, id)
		if err != nil {
			p.logger.Warn("capture failed", zap.String("order_id", id), zap.Error(err))
		} else {
			order = captured
		}
	}
	if order.Status == "" {
		return nil, p.verifyError("order missing status", nil)
	}

	reference := id
	amount := paypalAmount{}
	var paidAt *time.Time
	if len(order.PurchaseUnits) > 0 {
		unit := order.PurchaseUnits[0]
		if unit.ReferenceID != "" {
			reference = unit.ReferenceID
		}
		amount = unit.Amount
		if captures := unit.Payments.Captures; len(captures) > 0 {
			if amount.Value == "" {
				amount = captures[0].Amount
			}
			paidAt = parseTime(captures[0].CreateTime)
		}
	}

	status := p.normalize(order.Status)
	if status == StatusSuccess && paidAt == nil {
		paidAt = parseTime(order.UpdateTime)
	}

	return &VerificationResponse{
		Reference: reference,
		Status:    status,
		Amount:    decimalValue(amount.Value),
		Currency:  strings.ToUpper(amount.CurrencyCode),
		PaidAt:    paidAt,
		Channel:   "paypal",
		Customer: map[string]any{
			"email":    order.Payer.EmailAddress,
			"payer_id": order.Payer.PayerID,
		},
		Metadata: map[string]any{MetaOrderID: order.ID},
		Provider: p.name,
	}, nil
}

type paypalVerifySignatureParams struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

// ValidateWebhook delegates signature checking to PayPal's verification API.
func (p *PayPalDriver) ValidateWebhook(ctx context.Context, headers http.Header, body []byte) bool {
	if p.webhookID == "" || !json.Valid(body) {
		return false
	}
	params := paypalVerifySignatureParams{
		AuthAlgo:         headers.Get("Paypal-Auth-Algo"),
		CertURL:          headers.Get("Paypal-Cert-Url"),
		TransmissionID:   headers.Get("Paypal-Transmission-Id"),
		TransmissionSig:  headers.Get("Paypal-Transmission-Sig"),
		TransmissionTime: headers.Get("Paypal-Transmission-Time"),
		WebhookID:        p.webhookID,
		WebhookEvent:     json.RawMessage(body),
	}
	if params.TransmissionID == "" || params.TransmissionSig == "" || params.CertURL == "" || params.AuthAlgo == "" {
		return false
	}

	token, err := p.token(ctx)
	if err != nil {
		return false
	}

	resp, err := p.send(ctx, apiRequest{
		method:  http.MethodPost,
		path:    "/v1/notifications/verify-webhook-signature",
		body:    params,
		headers: bearer(token),
	})
	if err != nil || !resp.ok() {
		return false
	}

	var result struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := resp.decode(&result); err != nil {
		return false
	}
	return result.VerificationStatus == "SUCCESS"
}

func (p *PayPalDriver) ExtractWebhookReference(payload map[string]any) string {
	return DigString(payload,
		"resource.purchase_units.0.reference_id",
		"resource.custom_id",
		"resource.supplementary_data.related_ids.order_id",
		"resource.id")
}

func (p *PayPalDriver) ExtractWebhookStatus(payload map[string]any) string {
	return DigString(payload, "resource.status")
}

func (p *PayPalDriver) ExtractWebhookChannel(map[string]any) string {
	return "paypal"
}

// HealthCheck requests a token; an OAuth rejection below 500 counts as reachable.
func (p *PayPalDriver) HealthCheck(ctx context.Context) bool {
	if _, err := p.token(ctx); err != nil {
		if reachable(err) {
			return true
		}
		p.logger.Warn("health check failed", zap.Error(err))
		return false
	}
	return true
}
