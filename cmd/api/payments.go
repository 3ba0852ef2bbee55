package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Mekazstan/paygate/internal/payment"
	"github.com/Mekazstan/paygate/internal/ratelimit"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (cfg *apiConfig) chargeHandler(w http.ResponseWriter, r *http.Request) {
	type parameters struct {
		payment.ChargeRequest
		Providers []string `json:"providers,omitempty"`
	}

	params := parameters{}
	if err := decodeJSON(w, r, &params); err != nil {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "INVALID_REQUEST",
			Message: "Invalid request body",
		})
		return
	}

	subject := ratelimit.Subject{Email: params.Email, IP: clientIP(r)}
	if userID, ok := GetUserID(r.Context()); ok {
		subject.Identity = userID.String()
	}

	decision := cfg.limiter.Allow(r.Context(), subject)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	if !decision.Allowed {
		cfg.metrics.IncRateLimited()
		retryAfter := decision.RetryAfter(time.Now())
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		respondWithError(w, http.StatusTooManyRequests, ApiError{
			Code:    "RATE_LIMIT_EXCEEDED",
			Message: "Too many payment attempts, please retry later",
			Details: map[string]interface{}{
				"limit":       decision.Limit,
				"retry_after": retryAfter,
			},
		})
		return
	}

	req := params.ChargeRequest
	resp, err := cfg.payments.ChargeWithFallback(r.Context(), &req, params.Providers)
	if err != nil {
		cfg.respondWithPaymentError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, ApiResponse{
		Success: true,
		Message: "Payment initialized",
		Data:    resp,
	})
}

func (cfg *apiConfig) verifyHandler(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	if reference == "" {
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "VALIDATION_ERROR",
			Message: "Reference is required",
		})
		return
	}

	resp, err := cfg.payments.Verify(r.Context(), reference, r.URL.Query().Get("provider"))
	if err != nil {
		cfg.respondWithPaymentError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    resp,
	})
}

type providerInfo struct {
	Name       string   `json:"name"`
	Default    bool     `json:"default"`
	Healthy    bool     `json:"healthy"`
	Currencies []string `json:"currencies"`
	Error      string   `json:"error,omitempty"`
}

func (cfg *apiConfig) listProvidersHandler(w http.ResponseWriter, r *http.Request) {
	names := cfg.payments.EnabledProviders()
	providers := make([]providerInfo, 0, len(names))

	for _, name := range names {
		info := providerInfo{Name: name, Default: name == cfg.payments.DefaultProvider()}

		drv, err := cfg.payments.Driver(name)
		if err != nil {
			info.Error = err.Error()
			providers = append(providers, info)
			continue
		}
		info.Currencies = drv.SupportedCurrencies()
		info.Healthy = cfg.payments.Healthy(r.Context(), name, drv)
		providers = append(providers, info)
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    providers,
	})
}

func (cfg *apiConfig) healthHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"providers": len(cfg.payments.EnabledProviders()),
		"time":      time.Now().UTC(),
	})
}

func (cfg *apiConfig) respondWithPaymentError(w http.ResponseWriter, err error) {
	var (
		validationErr *payment.ValidationError
		notFoundErr   *payment.DriverNotFoundError
		configErr     *payment.InvalidConfigurationError
		providerErr   *payment.ProviderError
		chargeErr     *payment.ChargeError
		verifyErr     *payment.VerificationError
	)

	switch {
	case errors.As(err, &validationErr):
		respondWithError(w, http.StatusBadRequest, ApiError{
			Code:    "VALIDATION_ERROR",
			Message: err.Error(),
			Details: map[string]interface{}{
				"field":  validationErr.Field,
				"reason": validationErr.Message,
			},
		})
	case errors.As(err, &notFoundErr):
		respondWithError(w, http.StatusNotFound, ApiError{
			Code:    "PROVIDER_NOT_FOUND",
			Message: err.Error(),
		})
	case errors.As(err, &configErr):
		cfg.logger.Error("payment provider misconfigured", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, ApiError{
			Code:    "PROVIDER_MISCONFIGURED",
			Message: fmt.Sprintf("Payment provider %s is not configured correctly", configErr.Provider),
		})
	case errors.As(err, &providerErr):
		cfg.logger.Warn("all payment providers failed", zap.Error(err))
		respondWithError(w, http.StatusBadGateway, ApiError{
			Code:    "PAYMENT_PROVIDERS_FAILED",
			Message: providerErr.Message,
			Details: providerErr.Context,
		})
	case errors.As(err, &chargeErr), errors.As(err, &verifyErr):
		cfg.logger.Warn("payment provider error", zap.Error(err))
		respondWithError(w, http.StatusBadGateway, ApiError{
			Code:    "PROVIDER_ERROR",
			Message: err.Error(),
		})
	default:
		cfg.logger.Error("payment request failed", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, ApiError{
			Code:    "INTERNAL_ERROR",
			Message: "An unexpected error occurred. Please try again later.",
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
