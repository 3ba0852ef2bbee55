package payment

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Currencies Stripe charges in whole units.
var stripeZeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

type StripeDriver struct {
	baseDriver
	api           *client.API
	webhookSecret string
	cancelURL     string
}

func NewStripeDriver(cfg DriverConfig, deps Dependencies) (Driver, error) {
	d := &StripeDriver{
		baseDriver: newBaseDriver("stripe", "STRIPE", "",
			[]string{"USD", "EUR", "GBP", "CAD", "AUD", "JPY", "NGN", "ZAR"}, cfg, deps),
	}

	secretKey, err := d.credential("secret_key")
	if err != nil {
		return nil, err
	}
	d.webhookSecret = cfg.Credential("webhook_secret")
	d.cancelURL = cfg.Credential("cancel_url")

	backendConfig := &stripe.BackendConfig{
		LeveledLogger: d.logger.Sugar(),
	}
	if hc, ok := d.client.(*http.Client); ok {
		backendConfig.HTTPClient = hc
	}
	if d.baseURL != "" {
		backendConfig.URL = stripe.String(d.baseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig)

	d.api = client.New(secretKey, &stripe.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})
	return d, nil
}

func stripeAmount(amount decimal.Decimal, currency string) int64 {
	if stripeZeroDecimal[strings.ToUpper(currency)] {
		return amount.Round(0).IntPart()
	}
	return ToMinorUnits(amount)
}

func stripeMajor(amount int64, currency string) decimal.Decimal {
	if stripeZeroDecimal[strings.ToUpper(currency)] {
		return decimal.NewFromInt(amount)
	}
	return FromMinorUnits(amount)
}

func (s *StripeDriver) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error) {
	reference := s.referenceFor(req)

	description := req.Description
	if description == "" {
		description = "Payment " + reference
	}

	successURL := s.callbackFor(req)
	cancelURL := s.cancelURL
	if cancelURL == "" {
		cancelURL = successURL
	}

	metadata := map[string]string{"reference": reference}
	for k, v := range req.Metadata {
		if str := stringValue(v); str != "" {
			metadata[k] = str
		}
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(strings.ToLower(req.Currency)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(description),
					},
					UnitAmount: stripe.Int64(stripeAmount(req.Amount, req.Currency)),
				},
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(reference),
		CustomerEmail:     stripe.String(req.Email),
		Metadata:          metadata,
	}
	if successURL != "" {
		params.SuccessURL = stripe.String(successURL)
		params.CancelURL = stripe.String(cancelURL)
	}
	if channels := s.mapChannels(req.Channels); channels != nil {
		params.PaymentMethodTypes = stripe.StringSlice(channels)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	if len(req.Headers) > 0 {
		params.Headers = make(http.Header, len(req.Headers))
		for k, v := range req.Headers {
			params.Headers.Set(k, v)
		}
	}

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, s.chargeError("failed to create checkout session", err)
	}
	if sess.URL == "" {
		return nil, s.chargeError("checkout session missing url", nil)
	}

	out := map[string]any{}
	for k, v := range req.Metadata {
		out[k] = v
	}
	out[MetaProviderID] = sess.ID
	out[MetaSessionID] = sess.ID

	return &ChargeResponse{
		Reference:        reference,
		AuthorizationURL: sess.URL,
		AccessCode:       sess.ID,
		Status:           StatusPending,
		Metadata:         out,
		Provider:         s.name,
	}, nil
}

// stripeSessionStatus folds a session's status pair into one raw status.
func stripeSessionStatus(sess *stripe.CheckoutSession) string {
	switch {
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return string(sess.PaymentStatus)
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		return string(sess.Status)
	case sess.PaymentStatus != "":
		return string(sess.PaymentStatus)
	default:
		return string(sess.Status)
	}
}

// Verify takes a checkout session id.
func (s *StripeDriver) Verify(ctx context.Context, id string) (*VerificationResponse, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	sess, err := s.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, s.verifyError("failed to retrieve checkout session", err)
	}

	raw := stripeSessionStatus(sess)
	if raw == "" {
		return nil, s.verifyError("session missing status", nil)
	}
	status := s.normalize(raw)

	reference := sess.ClientReferenceID
	if reference == "" {
		reference = sess.Metadata["reference"]
	}
	if reference == "" {
		reference = id
	}

	var paidAt *time.Time
	if status == StatusSuccess {
		t := time.Unix(sess.Created, 0).UTC()
		if sess.PaymentIntent != nil && sess.PaymentIntent.Created > 0 {
			t = time.Unix(sess.PaymentIntent.Created, 0).UTC()
		}
		paidAt = &t
	}

	var customer map[string]any
	if sess.CustomerDetails != nil {
		customer = map[string]any{
			"email": sess.CustomerDetails.Email,
			"name":  sess.CustomerDetails.Name,
		}
	}

	metadata := make(map[string]any, len(sess.Metadata)+1)
	for k, v := range sess.Metadata {
		metadata[k] = v
	}
	metadata[MetaSessionID] = sess.ID

	channel := ""
	if len(sess.PaymentMethodTypes) > 0 {
		channel = sess.PaymentMethodTypes[0]
	}

	currency := strings.ToUpper(string(sess.Currency))
	return &VerificationResponse{
		Reference: reference,
		Status:    status,
		Amount:    stripeMajor(sess.AmountTotal, currency),
		Currency:  currency,
		PaidAt:    paidAt,
		Channel:   channel,
		Customer:  customer,
		Metadata:  metadata,
		Provider:  s.name,
	}, nil
}

// ValidateWebhook checks the Stripe-Signature header, including its timestamp tolerance.
func (s *StripeDriver) ValidateWebhook(_ context.Context, headers http.Header, body []byte) bool {
	signature := headers.Get("Stripe-Signature")
	if signature == "" || s.webhookSecret == "" {
		return false
	}
	if err := webhook.ValidatePayload(body, signature, s.webhookSecret); err != nil {
		s.logger.Debug("stripe signature rejected")
		return false
	}
	return true
}

func (s *StripeDriver) ExtractWebhookReference(payload map[string]any) string {
	return DigString(payload,
		"data.object.client_reference_id",
		"data.object.metadata.reference",
		"data.object.id")
}

func (s *StripeDriver) ExtractWebhookStatus(payload map[string]any) string {
	return DigString(payload, "data.object.payment_status", "data.object.status")
}

func (s *StripeDriver) ExtractWebhookChannel(payload map[string]any) string {
	return DigString(payload, "data.object.payment_method_types.0")
}

func (s *StripeDriver) ExtractWebhookPaidAt(payload map[string]any) *time.Time {
	created := DigString(payload, "data.object.created", "created")
	if created == "" {
		return nil
	}
	unix, err := strconv.ParseInt(created, 10, 64)
	if err != nil {
		return parseTime(created)
	}
	t := time.Unix(unix, 0).UTC()
	return &t
}

// HealthCheck treats any API answer below 500 as reachable, so an auth
// failure still reports healthy transport.
func (s *StripeDriver) HealthCheck(ctx context.Context) bool {
	params := &stripe.BalanceParams{}
	params.Context = ctx

	_, err := s.api.Balance.Get(params)
	if err == nil {
		return true
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode > 0 && stripeErr.HTTPStatusCode < 500 {
		return true
	}
	return false
}
