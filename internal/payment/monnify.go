package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type MonnifyDriver struct {
	baseDriver
	apiKey       string
	secretKey    string
	contractCode string

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

func NewMonnifyDriver(cfg DriverConfig, deps Dependencies) (Driver, error) {
	d := &MonnifyDriver{
		baseDriver: newBaseDriver("monnify", "MONNIFY", "https://sandbox.monnify.com",
			[]string{"NGN"}, cfg, deps),
	}

	var err error
	if d.apiKey, err = d.credential("api_key"); err != nil {
		return nil, err
	}
	if d.secretKey, err = d.credential("secret_key"); err != nil {
		return nil, err
	}
	if d.contractCode, err = d.credential("contract_code"); err != nil {
		return nil, err
	}
	d.paidAtPaths = []string{"eventData.paidOn", "paidOn"}
	return d, nil
}

type monnifyEnvelope struct {
	RequestSuccessful bool   `json:"requestSuccessful"`
	ResponseMessage   string `json:"responseMessage"`
}

// token logs in with basic auth and caches the bearer token until shortly
// before it expires.
func (m *MonnifyDriver) token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.accessToken != "" && time.Now().Before(m.expiresAt) {
		return m.accessToken, nil
	}

	basic := base64.StdEncoding.EncodeToString([]byte(m.apiKey + ":" + m.secretKey))
	headers := make(http.Header)
	headers.Set("Authorization", "Basic "+basic)

	resp, err := m.send(ctx, apiRequest{
		method:  http.MethodPost,
		path:    "/api/v1/auth/login",
		headers: headers,
	})
	if err != nil {
		return "", err
	}

	if !resp.ok() {
		return "", &statusError{
			status: resp.status,
			err:    &VerificationError{Provider: m.name, Message: "authentication failed: " + resp.snippet()},
		}
	}

	var result struct {
		monnifyEnvelope
		ResponseBody struct {
			AccessToken string `json:"accessToken"`
			ExpiresIn   int64  `json:"expiresIn"`
		} `json:"responseBody"`
	}
	if err := resp.decode(&result); err != nil {
		return "", err
	}
	if !result.RequestSuccessful || result.ResponseBody.AccessToken == "" {
		return "", &VerificationError{Provider: m.name, Message: "authentication failed: " + result.ResponseMessage}
	}

	ttl := time.Duration(result.ResponseBody.ExpiresIn) * time.Second
	if ttl <= time.Minute {
		ttl = 5 * time.Minute
	}
	m.accessToken = result.ResponseBody.AccessToken
	m.expiresAt = time.Now().Add(ttl - 30*time.Second)
	return m.accessToken, nil
}

type monnifyInitParams struct {
	Amount             string         `json:"amount"`
	CustomerName       string         `json:"customerName,omitempty"`
	CustomerEmail      string         `json:"customerEmail"`
	PaymentReference   string         `json:"paymentReference"`
	PaymentDescription string         `json:"paymentDescription"`
	CurrencyCode       string         `json:"currencyCode"`
	ContractCode       string         `json:"contractCode"`
	RedirectURL        string         `json:"redirectUrl,omitempty"`
	PaymentMethods     []string       `json:"paymentMethods,omitempty"`
	MetaData           map[string]any `json:"metaData,omitempty"`
}

func (m *MonnifyDriver) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error) {
	reference := m.referenceFor(req)

	token, err := m.token(ctx)
	if err != nil {
		return nil, m.chargeError("authentication failed", err)
	}

	description := req.Description
	if description == "" {
		description = "Payment " + reference
	}

	params := monnifyInitParams{
		Amount:             MajorString(req.Amount),
		CustomerName:       stringValue(req.Customer["name"]),
		CustomerEmail:      req.Email,
		PaymentReference:   reference,
		PaymentDescription: description,
		CurrencyCode:       req.Currency,
		ContractCode:       m.contractCode,
		RedirectURL:        m.callbackFor(req),
		PaymentMethods:     m.mapChannels(req.Channels),
		MetaData:           req.Metadata,
	}

	headers := m.chargeHeaders(req)
	headers.Set("Authorization", "Bearer "+token)

	resp, err := m.send(ctx, apiRequest{
		method:         http.MethodPost,
		path:           "/api/v1/merchant/transactions/init-transaction",
		body:           params,
		headers:        headers,
		idempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, m.chargeError("transport error", err)
	}

	var result struct {
		monnifyEnvelope
		ResponseBody struct {
			TransactionReference string `json:"transactionReference"`
			PaymentReference     string `json:"paymentReference"`
			CheckoutURL          string `json:"checkoutUrl"`
		} `json:"responseBody"`
	}
	if err := resp.decode(&result); err != nil {
		return nil, m.chargeError("invalid response", err)
	}
	if !resp.ok() || !result.RequestSuccessful {
		return nil, m.chargeError("monnify error: "+result.ResponseMessage, nil)
	}
	if result.ResponseBody.CheckoutURL == "" {
		return nil, m.chargeError("response missing checkoutUrl", nil)
	}

	metadata := map[string]any{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata[MetaProviderID] = result.ResponseBody.TransactionReference

	return &ChargeResponse{
		Reference:        reference,
		AuthorizationURL: result.ResponseBody.CheckoutURL,
		AccessCode:       result.ResponseBody.TransactionReference,
		Status:           StatusPending,
		Metadata:         metadata,
		Provider:         m.name,
	}, nil
}

// Verify takes the Monnify transaction reference, not the merchant reference.
func (m *MonnifyDriver) Verify(ctx context.Context, id string) (*VerificationResponse, error) {
	token, err := m.token(ctx)
	if err != nil {
		return nil, m.verifyError("authentication failed", err)
	}

	resp, err := m.send(ctx, apiRequest{
		method:  http.MethodGet,
		path:    "/api/v2/transactions/" + url.PathEscape(id),
		headers: bearer(token),
	})
	if err != nil {
		return nil, m.verifyError("transport error", err)
	}

	var result struct {
		monnifyEnvelope
		ResponseBody struct {
			PaymentReference string         `json:"paymentReference"`
			PaymentStatus    string         `json:"paymentStatus"`
			AmountPaid       any            `json:"amountPaid"`
			CurrencyCode     string         `json:"currencyCode"`
			PaidOn           string         `json:"paidOn"`
			PaymentMethod    string         `json:"paymentMethod"`
			Customer         map[string]any `json:"customer"`
			MetaData         map[string]any `json:"metaData"`
			CardDetails      struct {
				CardType string `json:"cardType"`
			} `json:"cardDetails"`
		} `json:"responseBody"`
	}
	if err := resp.decode(&result); err != nil {
		return nil, m.verifyError("invalid response", err)
	}
	if !resp.ok() || !result.RequestSuccessful {
		return nil, m.verifyError("monnify error: "+result.ResponseMessage, nil)
	}

	body := result.ResponseBody
	if body.PaymentStatus == "" {
		return nil, m.verifyError("response missing paymentStatus", nil)
	}
	reference := body.PaymentReference
	if reference == "" {
		reference = id
	}

	return &VerificationResponse{
		Reference: reference,
		Status:    m.normalize(body.PaymentStatus),
		Amount:    decimalValue(body.AmountPaid),
		Currency:  strings.ToUpper(body.CurrencyCode),
		PaidAt:    parseTime(body.PaidOn),
		Channel:   strings.ToLower(body.PaymentMethod),
		CardType:  body.CardDetails.CardType,
		Customer:  body.Customer,
		Metadata:  body.MetaData,
		Provider:  m.name,
	}, nil
}

// ValidateWebhook checks monnify-signature: HMAC-SHA512 hex keyed by the secret key.
func (m *MonnifyDriver) ValidateWebhook(_ context.Context, headers http.Header, body []byte) bool {
	signature := headers.Get("Monnify-Signature")
	if signature == "" {
		return false
	}

	mac := hmac.New(sha512.New, []byte(m.secretKey))
	mac.Write(body)
	return constantTimeEqual(strings.ToLower(signature), hex.EncodeToString(mac.Sum(nil)))
}

func (m *MonnifyDriver) ExtractWebhookReference(payload map[string]any) string {
	return DigString(payload, "eventData.paymentReference", "paymentReference")
}

func (m *MonnifyDriver) ExtractWebhookStatus(payload map[string]any) string {
	return DigString(payload, "eventData.paymentStatus", "paymentStatus")
}

func (m *MonnifyDriver) ExtractWebhookChannel(payload map[string]any) string {
	return strings.ToLower(DigString(payload, "eventData.paymentMethod", "paymentMethod"))
}

// HealthCheck logs in; a rejected login still proves the API is reachable.
func (m *MonnifyDriver) HealthCheck(ctx context.Context) bool {
	if _, err := m.token(ctx); err != nil {
		if reachable(err) {
			return true
		}
		m.logger.Warn("health check failed", zap.Error(err))
		return false
	}
	return true
}
