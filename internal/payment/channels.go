package payment

import "strings"

// Canonical payment channels.
const (
	ChannelCard         = "card"
	ChannelBankTransfer = "bank_transfer"
	ChannelUSSD         = "ussd"
	ChannelMobileMoney  = "mobile_money"
	ChannelQRCode       = "qr_code"
)

// ChannelVocabulary describes how one provider names payment channels.
// A nil Mapping means the provider has no channel-restriction concept.
type ChannelVocabulary struct {
	Mapping map[string]string
	// Open keeps unrecognized entries, lowercased, instead of dropping them.
	Open     bool
	Defaults []string
}

// ChannelMapper translates canonical channel lists to provider vocabularies.
type ChannelMapper struct {
	vocabularies map[string]ChannelVocabulary
}

func NewChannelMapper(vocabularies map[string]ChannelVocabulary) *ChannelMapper {
	m := &ChannelMapper{vocabularies: make(map[string]ChannelVocabulary, len(vocabularies))}
	for provider, v := range vocabularies {
		m.vocabularies[strings.ToLower(provider)] = v
	}
	return m
}

func DefaultChannelMapper() *ChannelMapper {
	return NewChannelMapper(DefaultChannelVocabularies())
}

func DefaultChannelVocabularies() map[string]ChannelVocabulary {
	return map[string]ChannelVocabulary{
		"paystack": {
			Mapping: map[string]string{
				ChannelCard:         "card",
				ChannelBankTransfer: "bank_transfer",
				ChannelUSSD:         "ussd",
				ChannelMobileMoney:  "mobile_money",
				ChannelQRCode:       "qr",
			},
			Defaults: []string{ChannelCard, ChannelBankTransfer, ChannelUSSD, ChannelMobileMoney, ChannelQRCode},
		},
		"flutterwave": {
			Mapping: map[string]string{
				ChannelCard:         "card",
				ChannelBankTransfer: "banktransfer",
				ChannelUSSD:         "ussd",
				ChannelMobileMoney:  "mobilemoney",
				ChannelQRCode:       "qr",
			},
			Open:     true,
			Defaults: []string{ChannelCard, ChannelBankTransfer, ChannelUSSD, ChannelMobileMoney},
		},
		"monnify": {
			Mapping: map[string]string{
				ChannelCard:         "CARD",
				ChannelBankTransfer: "ACCOUNT_TRANSFER",
				ChannelUSSD:         "USSD",
				ChannelMobileMoney:  "PHONE_NUMBER",
			},
			Defaults: []string{ChannelCard, ChannelBankTransfer, ChannelUSSD},
		},
		"stripe": {
			Mapping: map[string]string{
				ChannelCard:         "card",
				ChannelBankTransfer: "customer_balance",
			},
			Defaults: []string{ChannelCard},
		},
		"mollie": {
			Mapping: map[string]string{
				ChannelCard:         "creditcard",
				ChannelBankTransfer: "banktransfer",
			},
			Defaults: []string{ChannelCard, ChannelBankTransfer},
		},
		// Hosted checkouts without a channel concept.
		"paypal":      {},
		"square":      {},
		"nowpayments": {},
	}
}

func (m *ChannelMapper) vocabulary(provider string) (ChannelVocabulary, bool) {
	v, ok := m.vocabularies[strings.ToLower(provider)]
	if !ok || v.Mapping == nil {
		return ChannelVocabulary{}, false
	}
	return v, true
}

// SupportsChannels reports whether provider accepts a channel restriction.
func (m *ChannelMapper) SupportsChannels(provider string) bool {
	_, ok := m.vocabulary(provider)
	return ok
}

// MapChannels returns nil when channels is empty or the provider cannot
// restrict channels. Closed vocabularies drop unknown entries; open ones
// keep them lowercased.
func (m *ChannelMapper) MapChannels(channels []string, provider string) []string {
	if len(channels) == 0 {
		return nil
	}
	v, ok := m.vocabulary(provider)
	if !ok {
		return nil
	}

	var out []string
	seen := make(map[string]bool, len(channels))
	for _, ch := range channels {
		key := strings.ToLower(strings.TrimSpace(ch))
		if key == "" {
			continue
		}
		mapped, known := v.Mapping[key]
		if !known {
			if !v.Open {
				continue
			}
			mapped = key
		}
		if seen[mapped] {
			continue
		}
		seen[mapped] = true
		out = append(out, mapped)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (m *ChannelMapper) DefaultChannels(provider string) []string {
	v, ok := m.vocabulary(provider)
	if !ok {
		return nil
	}
	return append([]string(nil), v.Defaults...)
}

func (m *ChannelMapper) ShouldIncludeChannels(provider string, channels []string) bool {
	return m.SupportsChannels(provider) && len(channels) > 0
}
