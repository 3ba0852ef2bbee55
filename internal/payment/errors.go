package payment

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// InvalidConfigurationError is raised at driver construction when a
// required credential is missing.
type InvalidConfigurationError struct {
	Provider string
	Field    string
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("%s: missing required configuration %q", e.Provider, e.Field)
}

type ChargeError struct {
	Provider string
	Message  string
	Err      error
}

func (e *ChargeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s charge failed: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s charge failed: %s", e.Provider, e.Message)
}

func (e *ChargeError) Unwrap() error { return e.Err }

type VerificationError struct {
	Provider string
	Message  string
	Err      error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s verification failed: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s verification failed: %s", e.Provider, e.Message)
}

func (e *VerificationError) Unwrap() error { return e.Err }

type DriverNotFoundError struct {
	Provider string
	Reason   string
}

func (e *DriverNotFoundError) Error() string {
	return fmt.Sprintf("payment driver %q not found: %s", e.Provider, e.Reason)
}

// ProviderError is returned once every candidate in a chain has failed.
// Context maps each attempted provider to its failure message.
type ProviderError struct {
	Message string
	Context map[string]string
}

func (e *ProviderError) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	names := make([]string, 0, len(e.Context))
	for name := range e.Context {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Context[name])
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

// ValidationError reports an invalid charge request before any provider call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
