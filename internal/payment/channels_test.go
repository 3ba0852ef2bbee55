package payment

import (
	"reflect"
	"testing"
)

func TestMapChannels(t *testing.T) {
	m := DefaultChannelMapper()

	tests := []struct {
		name     string
		channels []string
		provider string
		expected []string
	}{
		{"monnify maps known channels", []string{"card", "bank_transfer"}, "monnify", []string{"CARD", "ACCOUNT_TRANSFER"}},
		{"monnify drops unknown channels", []string{"card", "invalid"}, "monnify", []string{"CARD"}},
		{"flutterwave keeps unknown channels", []string{"card", "INVALID"}, "flutterwave", []string{"card", "invalid"}},
		{"paystack qr code", []string{"qr_code"}, "paystack", []string{"qr"}},
		{"mollie card", []string{"Card"}, "mollie", []string{"creditcard"}},
		{"duplicates collapse", []string{"card", "CARD"}, "paystack", []string{"card"}},
		{"all dropped yields nil", []string{"invalid"}, "monnify", nil},
		{"provider without channels", []string{"card"}, "paypal", nil},
		{"square has no channel concept", []string{"card"}, "square", nil},
		{"unknown provider", []string{"card"}, "acme", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.MapChannels(tt.channels, tt.provider)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestMapChannelsEmptyInput(t *testing.T) {
	m := DefaultChannelMapper()
	providers := []string{"paystack", "flutterwave", "monnify", "stripe", "paypal", "mollie", "square", "nowpayments", "acme"}

	for _, provider := range providers {
		if got := m.MapChannels(nil, provider); got != nil {
			t.Errorf("Expected nil for nil input on %s, got %v", provider, got)
		}
		if got := m.MapChannels([]string{}, provider); got != nil {
			t.Errorf("Expected nil for empty input on %s, got %v", provider, got)
		}
	}
}

func TestShouldIncludeChannels(t *testing.T) {
	m := DefaultChannelMapper()

	if !m.ShouldIncludeChannels("paystack", []string{"card"}) {
		t.Error("Expected paystack with channels to include them")
	}
	if m.ShouldIncludeChannels("paystack", nil) {
		t.Error("Expected no channels to be omitted")
	}
	if m.ShouldIncludeChannels("paypal", []string{"card"}) {
		t.Error("Expected paypal to never include channels")
	}
}

func TestDefaultChannels(t *testing.T) {
	m := DefaultChannelMapper()

	if got := m.DefaultChannels("monnify"); len(got) == 0 {
		t.Error("Expected monnify to have default channels")
	}
	if got := m.DefaultChannels("nowpayments"); got != nil {
		t.Errorf("Expected nil defaults for nowpayments, got %v", got)
	}

	got := m.DefaultChannels("paystack")
	got[0] = "mutated"
	if m.DefaultChannels("paystack")[0] == "mutated" {
		t.Error("Expected DefaultChannels to return a copy")
	}
}
