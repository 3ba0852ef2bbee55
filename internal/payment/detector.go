package payment

import (
	"sort"
	"strings"
	"sync"
)

// ProviderDetector guesses a provider from the prefix of a reference such
// as "PAYSTACK_1700000000_ab12".
type ProviderDetector struct {
	mu       sync.RWMutex
	prefixes map[string]string
}

func NewProviderDetector(prefixes map[string]string) *ProviderDetector {
	d := &ProviderDetector{prefixes: make(map[string]string, len(prefixes))}
	for prefix, provider := range prefixes {
		d.Register(prefix, provider)
	}
	return d
}

func DefaultProviderDetector() *ProviderDetector {
	return NewProviderDetector(DefaultReferencePrefixes())
}

func DefaultReferencePrefixes() map[string]string {
	return map[string]string{
		"PAYSTACK": "paystack",
		"FLW":      "flutterwave",
		"MONNIFY":  "monnify",
		"STRIPE":   "stripe",
		"PAYPAL":   "paypal",
		"MOLLIE":   "mollie",
		"SQUARE":   "square",
		"NOWP":     "nowpayments",
	}
}

func (d *ProviderDetector) Register(prefix, provider string) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		return
	}
	d.mu.Lock()
	d.prefixes[prefix] = strings.ToLower(provider)
	d.mu.Unlock()
}

// DetectFromReference returns "" when no registered prefix followed by an
// underscore starts ref.
func (d *ProviderDetector) DetectFromReference(ref string) string {
	upper := strings.ToUpper(ref)

	d.mu.RLock()
	defer d.mu.RUnlock()

	prefixes := make([]string, 0, len(d.prefixes))
	for p := range d.prefixes {
		prefixes = append(prefixes, p)
	}
	// Longest first so overlapping prefixes resolve deterministically.
	sort.Slice(prefixes, func(i, j int) bool {
		if len(prefixes[i]) != len(prefixes[j]) {
			return len(prefixes[i]) > len(prefixes[j])
		}
		return prefixes[i] < prefixes[j]
	})

	for _, p := range prefixes {
		if strings.HasPrefix(upper, p+"_") {
			return d.prefixes[p]
		}
	}
	return ""
}
