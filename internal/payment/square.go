package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const squareVersion = "2024-01-18"

type SquareDriver struct {
	baseDriver
	accessToken     string
	locationID      string
	signatureKey    string
	notificationURL string
}

func NewSquareDriver(cfg DriverConfig, deps Dependencies) (Driver, error) {
	d := &SquareDriver{
		baseDriver: newBaseDriver("square", "SQUARE", "https://connect.squareupsandbox.com",
			[]string{"USD", "CAD", "GBP", "AUD", "JPY", "EUR"}, cfg, deps),
	}

	var err error
	if d.accessToken, err = d.credential("access_token"); err != nil {
		return nil, err
	}
	if d.locationID, err = d.credential("location_id"); err != nil {
		return nil, err
	}
	d.signatureKey = cfg.Credential("webhook_signature_key")
	d.notificationURL = cfg.Credential("notification_url")
	d.paidAtPaths = []string{"data.object.payment.updated_at", "created_at"}
	return d, nil
}

func (s *SquareDriver) headers(req *ChargeRequest) http.Header {
	var h http.Header
	if req != nil {
		h = s.chargeHeaders(req)
	} else {
		h = make(http.Header)
	}
	h.Set("Authorization", "Bearer "+s.accessToken)
	h.Set("Square-Version", squareVersion)
	return h
}

type squareMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type squareLineItem struct {
	Name           string      `json:"name"`
	Quantity       string      `json:"quantity"`
	BasePriceMoney squareMoney `json:"base_price_money"`
}

type squarePaymentLinkParams struct {
	IdempotencyKey string `json:"idempotency_key"`
	Order          struct {
		LocationID  string            `json:"location_id"`
		ReferenceID string            `json:"reference_id"`
		LineItems   []squareLineItem  `json:"line_items"`
		Metadata    map[string]string `json:"metadata,omitempty"`
	} `json:"order"`
	CheckoutOptions  map[string]any    `json:"checkout_options,omitempty"`
	PrePopulatedData map[string]string `json:"pre_populated_data,omitempty"`
}

type squareErrors struct {
	Errors []struct {
		Code   string `json:"code"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (e squareErrors) message() string {
	if len(e.Errors) == 0 {
		return "unknown error"
	}
	return e.Errors[0].Code + ": " + e.Errors[0].Detail
}

func (s *SquareDriver) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error) {
	reference := s.referenceFor(req)

	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	name := req.Description
	if name == "" {
		name = "Payment " + reference
	}

	var params squarePaymentLinkParams
	params.IdempotencyKey = idempotencyKey
	params.Order.LocationID = s.locationID
	params.Order.ReferenceID = reference
	params.Order.LineItems = []squareLineItem{{
		Name:     name,
		Quantity: "1",
		BasePriceMoney: squareMoney{
			Amount:   ToMinorUnits(req.Amount),
			Currency: req.Currency,
		},
	}}
	if len(req.Metadata) > 0 {
		params.Order.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			if str := stringValue(v); str != "" {
				params.Order.Metadata[k] = str
			}
		}
	}
	if redirect := s.callbackFor(req); redirect != "" {
		params.CheckoutOptions = map[string]any{"redirect_url": redirect}
	}
	params.PrePopulatedData = map[string]string{"buyer_email": req.Email}

	resp, err := s.send(ctx, apiRequest{
		method:         http.MethodPost,
		path:           "/v2/online-checkout/payment-links",
		body:           params,
		headers:        s.headers(req),
		idempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, s.chargeError("transport error", err)
	}

	var result struct {
		squareErrors
		PaymentLink struct {
			ID      string `json:"id"`
			URL     string `json:"url"`
			OrderID string `json:"order_id"`
		} `json:"payment_link"`
	}
	if err := resp.decode(&result); err != nil {
		return nil, s.chargeError("invalid response", err)
	}
	if !resp.ok() {
		return nil, s.chargeError("square error: "+result.message(), nil)
	}
	if result.PaymentLink.URL == "" {
		return nil, s.chargeError("response missing payment link url", nil)
	}

	metadata := map[string]any{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata[MetaProviderID] = result.PaymentLink.OrderID
	metadata[MetaOrderID] = result.PaymentLink.OrderID

	return &ChargeResponse{
		Reference:        reference,
		AuthorizationURL: result.PaymentLink.URL,
		AccessCode:       result.PaymentLink.ID,
		Status:           StatusPending,
		Metadata:         metadata,
		Provider:         s.name,
	}, nil
}

type squareOrder struct {
	ID                string            `json:"id"`
	ReferenceID       string            `json:"reference_id"`
	State             string            `json:"state"`
	UpdatedAt         string            `json:"updated_at"`
	ClosedAt          string            `json:"closed_at"`
	Metadata          map[string]string `json:"metadata"`
	TotalMoney        squareMoney       `json:"total_money"`
	NetAmountDueMoney squareMoney       `json:"net_amount_due_money"`
	Tenders           []struct {
		Type        string `json:"type"`
		CardDetails struct {
			Card struct {
				CardBrand string `json:"card_brand"`
			} `json:"card"`
		} `json:"card_details"`
	} `json:"tenders"`
}

func (s *SquareDriver) fetchOrder(ctx context.Context, id string) (*squareOrder, error) {
	resp, err := s.send(ctx, apiRequest{
		method:  http.MethodGet,
		path:    "/v2/orders/" + url.PathEscape(id),
		headers: s.headers(nil),
	})
	if err != nil {
		return nil, err
	}

	var result struct {
		squareErrors
		Order squareOrder `json:"order"`
	}
	if err := resp.decode(&result); err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, fmt.Errorf("square error: %s", result.message())
	}
	return &result.Order, nil
}

// Verify takes a Square order id.
func (s *SquareDriver) Verify(ctx context.Context, id string) (*VerificationResponse, error) {
	order, err := s.fetchOrder(ctx, id)
	if err != nil {
		return nil, s.verifyError("failed to fetch order", err)
	}
	if order.State == "" {
		return nil, s.verifyError("order missing state", nil)
	}

	// An open order with nothing left to pay has been settled.
	raw := order.State
	if strings.EqualFold(raw, "OPEN") && len(order.Tenders) > 0 && order.NetAmountDueMoney.Amount == 0 {
		raw = "COMPLETED"
	}
	status := s.normalize(raw)

	reference := order.ReferenceID
	if reference == "" {
		reference = id
	}

	paidAt := parseTime(order.ClosedAt)
	if status == StatusSuccess && paidAt == nil {
		paidAt = parseTime(order.UpdatedAt)
	}
	if status != StatusSuccess {
		paidAt = nil
	}

	channel, cardType := "", ""
	if len(order.Tenders) > 0 {
		channel = strings.ToLower(order.Tenders[0].Type)
		cardType = order.Tenders[0].CardDetails.Card.CardBrand
	}

	metadata := map[string]any{MetaOrderID: order.ID}
	for k, v := range order.Metadata {
		metadata[k] = v
	}

	return &VerificationResponse{
		Reference: reference,
		Status:    status,
		Amount:    FromMinorUnits(order.TotalMoney.Amount),
		Currency:  strings.ToUpper(order.TotalMoney.Currency),
		PaidAt:    paidAt,
		Channel:   channel,
		CardType:  cardType,
		Metadata:  metadata,
		Provider:  s.name,
	}, nil
}

// ValidateWebhook checks x-square-hmacsha256-signature: base64 HMAC-SHA256
// of the notification URL followed by the raw body.
func (s *SquareDriver) ValidateWebhook(_ context.Context, headers http.Header, body []byte) bool {
	signature := headers.Get("X-Square-Hmacsha256-Signature")
	if signature == "" || s.signatureKey == "" || s.notificationURL == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(s.signatureKey))
	mac.Write([]byte(s.notificationURL))
	mac.Write(body)
	return constantTimeEqual(signature, base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

// ResolveWebhook fills in the merchant reference for payment-link payments,
// which carry only the order id, from the order's reference_id.
func (s *SquareDriver) ResolveWebhook(ctx context.Context, payload map[string]any) (*WebhookDetails, error) {
	details := &WebhookDetails{
		Reference: DigString(payload, "data.object.payment.reference_id", "data.object.order.reference_id"),
		Status:    s.ExtractWebhookStatus(payload),
		Channel:   s.ExtractWebhookChannel(payload),
	}
	if details.Reference != "" {
		return details, nil
	}

	orderID := DigString(payload, "data.object.payment.order_id", "data.object.order_updated.order_id", "data.object.order.id")
	if orderID == "" {
		return nil, fmt.Errorf("square webhook missing order id")
	}
	order, err := s.fetchOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.ReferenceID == "" {
		return nil, fmt.Errorf("square order %s has no reference_id", orderID)
	}
	details.Reference = order.ReferenceID
	if details.Status == "" {
		details.Status = order.State
	}
	return details, nil
}

func (s *SquareDriver) ExtractWebhookReference(payload map[string]any) string {
	return DigString(payload,
		"data.object.payment.reference_id",
		"data.object.payment.order_id",
		"data.object.order.reference_id")
}

func (s *SquareDriver) ExtractWebhookStatus(payload map[string]any) string {
	return DigString(payload, "data.object.payment.status", "data.object.order.state")
}

func (s *SquareDriver) ExtractWebhookChannel(payload map[string]any) string {
	return strings.ToLower(DigString(payload, "data.object.payment.source_type"))
}

func (s *SquareDriver) HealthCheck(ctx context.Context) bool {
	return s.probe(ctx, apiRequest{
		method:  http.MethodGet,
		path:    "/v2/locations/" + url.PathEscape(s.locationID),
		headers: s.headers(nil),
	})
}
