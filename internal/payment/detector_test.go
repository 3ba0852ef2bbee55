package payment

import "testing"

func TestDetectFromReference(t *testing.T) {
	d := DefaultProviderDetector()

	tests := []struct {
		ref      string
		expected string
	}{
		{"PAYSTACK_1700000000_abcd", "paystack"},
		{"paystack_x", "paystack"},
		{"PAYSTACKx", ""},
		{"PAYSTACK", ""},
		{"FLW_123", "flutterwave"},
		{"NOWP_1_2", "nowpayments"},
		{"STRIPE_abc", "stripe"},
		{"tr_12345", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			if got := d.DetectFromReference(tt.ref); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestDetectorRegister(t *testing.T) {
	d := NewProviderDetector(map[string]string{"PAY": "short"})
	d.Register("paystack", "paystack")

	if got := d.DetectFromReference("PAYSTACK_1"); got != "paystack" {
		t.Errorf("Expected longest prefix to win, got %q", got)
	}
	if got := d.DetectFromReference("pay_1"); got != "short" {
		t.Errorf("Expected short, got %q", got)
	}
}
