package payment

import "strings"

// Canonical statuses used for all control-flow decisions.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// StatusTable maps a lowercased raw provider status to a canonical status.
type StatusTable map[string]string

func newStatusTable(buckets map[string][]string) StatusTable {
	t := make(StatusTable)
	for canonical, raws := range buckets {
		for _, raw := range raws {
			t[strings.ToLower(raw)] = canonical
		}
	}
	return t
}

var defaultStatuses = newStatusTable(map[string][]string{
	StatusSuccess: {"success", "succeeded", "completed", "successful", "paid", "overpaid", "captured"},
	StatusFailed:  {"failed", "rejected", "cancelled", "canceled", "declined", "denied", "voided", "expired"},
	StatusPending: {
		"pending", "processing", "partially_paid", "created", "saved", "approved",
		"payer_action_required", "requires_action", "requires_payment_method", "requires_confirmation",
	},
})

// DefaultStatusTable returns a copy of the built-in status table.
func DefaultStatusTable() StatusTable {
	return defaultStatuses.clone()
}

func (t StatusTable) clone() StatusTable {
	out := make(StatusTable, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

func (t StatusTable) lookup(raw string) (string, bool) {
	canonical, ok := t[raw]
	return canonical, ok
}

// NormalizeStatus maps raw against the default table only. Unrecognized
// non-empty statuses come back lowercased and trimmed.
func NormalizeStatus(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if canonical, ok := defaultStatuses.lookup(key); ok {
		return canonical
	}
	return key
}

// StatusNormalizer consults a provider override table before the default
// table. It is immutable after construction.
type StatusNormalizer struct {
	defaults  StatusTable
	overrides map[string]StatusTable
}

func NewStatusNormalizer(defaults StatusTable, overrides map[string]StatusTable) *StatusNormalizer {
	if defaults == nil {
		defaults = DefaultStatusTable()
	}

	n := &StatusNormalizer{
		defaults:  defaults.clone(),
		overrides: make(map[string]StatusTable, len(overrides)),
	}
	for provider, table := range overrides {
		lowered := make(StatusTable, len(table))
		for raw, canonical := range table {
			lowered[strings.ToLower(raw)] = canonical
		}
		n.overrides[strings.ToLower(provider)] = lowered
	}
	return n
}

// DefaultStatusNormalizer carries the override tables for the built-in drivers.
func DefaultStatusNormalizer() *StatusNormalizer {
	return NewStatusNormalizer(nil, ProviderStatusOverrides())
}

func (n *StatusNormalizer) Normalize(raw, provider string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if table, ok := n.overrides[strings.ToLower(provider)]; ok {
		if canonical, ok := table.lookup(key); ok {
			return canonical
		}
	}
	if canonical, ok := n.defaults.lookup(key); ok {
		return canonical
	}
	return key
}

func (n *StatusNormalizer) IsSuccessful(raw, provider string) bool {
	return n.Normalize(raw, provider) == StatusSuccess
}

func (n *StatusNormalizer) IsFailed(raw, provider string) bool {
	return n.Normalize(raw, provider) == StatusFailed
}

func (n *StatusNormalizer) IsPending(raw, provider string) bool {
	return n.Normalize(raw, provider) == StatusPending
}

// ProviderStatusOverrides lists the vocabularies that differ from the
// default table.
func ProviderStatusOverrides() map[string]StatusTable {
	return map[string]StatusTable{
		"mollie": {
			"open":       StatusPending,
			"authorized": StatusPending,
		},
		"paypal": {
			"completed":             StatusSuccess,
			"approved":              StatusPending,
			"payer_action_required": StatusPending,
		},
		"stripe": {
			"complete":            StatusSuccess,
			"unpaid":              StatusPending,
			"open":                StatusPending,
			"no_payment_required": StatusSuccess,
		},
		"square": {
			"open":     StatusPending,
			"draft":    StatusPending,
			"approved": StatusPending,
		},
		"nowpayments": {
			"waiting":        StatusPending,
			"confirming":     StatusPending,
			"confirmed":      StatusPending,
			"sending":        StatusPending,
			"finished":       StatusSuccess,
			"partially_paid": StatusPending,
			"refunded":       StatusFailed,
		},
		"monnify": {
			"user_cancelled": StatusFailed,
			"reversed":       StatusFailed,
		},
		"flutterwave": {
			"new":   StatusPending,
			"error": StatusFailed,
		},
	}
}
