package payment

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type ChargeRequest struct {
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency" validate:"required,len=3,alpha"`
	Email          string            `json:"email" validate:"required,email"`
	Reference      string            `json:"reference,omitempty" validate:"omitempty,max=100"`
	CallbackURL    string            `json:"callback_url,omitempty" validate:"omitempty,url"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
	Description    string            `json:"description,omitempty"`
	Customer       map[string]any    `json:"customer,omitempty"`
	CustomFields   []map[string]any  `json:"custom_fields,omitempty"`
	Split          map[string]any    `json:"split,omitempty"`
	Channels       []string          `json:"channels,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Headers        map[string]string `json:"-"`
}

// Validate uppercases the currency and checks the request shape.
func (r *ChargeRequest) Validate() error {
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	r.Email = strings.TrimSpace(r.Email)

	if !r.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}

	if err := validate.Struct(r); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return &ValidationError{
				Field:   strings.ToLower(fe.Field()),
				Message: "failed '" + fe.Tag() + "' check",
			}
		}
		return &ValidationError{Field: "request", Message: err.Error()}
	}
	return nil
}

type ChargeResponse struct {
	Reference        string         `json:"reference"`
	AuthorizationURL string         `json:"authorization_url"`
	AccessCode       string         `json:"access_code"`
	Status           string         `json:"status"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Provider         string         `json:"provider"`
}

// ProviderID is the provider-side identifier used for verification when it
// differs from the reference.
func (r *ChargeResponse) ProviderID() string {
	if v, ok := r.Metadata[MetaProviderID].(string); ok {
		return v
	}
	return ""
}

func (r *ChargeResponse) IsSuccessful() bool { return NormalizeStatus(r.Status) == StatusSuccess }
func (r *ChargeResponse) IsFailed() bool     { return NormalizeStatus(r.Status) == StatusFailed }
func (r *ChargeResponse) IsPending() bool    { return NormalizeStatus(r.Status) == StatusPending }

func (r *ChargeResponse) ToMap() map[string]any {
	return map[string]any{
		"reference":         r.Reference,
		"authorization_url": r.AuthorizationURL,
		"access_code":       r.AccessCode,
		"status":            r.Status,
		"metadata":          r.Metadata,
		"provider":          r.Provider,
	}
}

func ChargeResponseFromMap(m map[string]any) *ChargeResponse {
	return &ChargeResponse{
		Reference:        stringValue(m["reference"]),
		AuthorizationURL: stringValue(m["authorization_url"]),
		AccessCode:       stringValue(m["access_code"]),
		Status:           stringValue(m["status"]),
		Metadata:         mapValue(m["metadata"]),
		Provider:         stringValue(m["provider"]),
	}
}

type VerificationResponse struct {
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	PaidAt    *time.Time      `json:"paid_at"`
	Channel   string          `json:"channel,omitempty"`
	CardType  string          `json:"card_type,omitempty"`
	Bank      string          `json:"bank,omitempty"`
	Customer  map[string]any  `json:"customer,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	Provider  string          `json:"provider"`
}

func (r *VerificationResponse) IsSuccessful() bool { return NormalizeStatus(r.Status) == StatusSuccess }
func (r *VerificationResponse) IsFailed() bool     { return NormalizeStatus(r.Status) == StatusFailed }
func (r *VerificationResponse) IsPending() bool    { return NormalizeStatus(r.Status) == StatusPending }

func (r *VerificationResponse) ToMap() map[string]any {
	var paidAt any
	if r.PaidAt != nil {
		paidAt = r.PaidAt.UTC().Format(time.RFC3339Nano)
	}
	return map[string]any{
		"reference": r.Reference,
		"status":    r.Status,
		"amount":    r.Amount.String(),
		"currency":  r.Currency,
		"paid_at":   paidAt,
		"channel":   r.Channel,
		"card_type": r.CardType,
		"bank":      r.Bank,
		"customer":  r.Customer,
		"metadata":  r.Metadata,
		"provider":  r.Provider,
	}
}

func VerificationResponseFromMap(m map[string]any) *VerificationResponse {
	return &VerificationResponse{
		Reference: stringValue(m["reference"]),
		Status:    stringValue(m["status"]),
		Amount:    decimalValue(m["amount"]),
		Currency:  stringValue(m["currency"]),
		PaidAt:    parseTime(stringValue(m["paid_at"])),
		Channel:   stringValue(m["channel"]),
		CardType:  stringValue(m["card_type"]),
		Bank:      stringValue(m["bank"]),
		Customer:  mapValue(m["customer"]),
		Metadata:  mapValue(m["metadata"]),
		Provider:  stringValue(m["provider"]),
	}
}
