package payment

import (
	"testing"
	"time"
)

func TestDecodePayload(t *testing.T) {
	jsonPayload := DecodePayload([]byte(`{"data":{"reference":"r1","items":[{"id":7}]}}`))
	if got := DigString(jsonPayload, "data.reference"); got != "r1" {
		t.Errorf("Expected r1, got %q", got)
	}
	if got := DigString(jsonPayload, "data.items.0.id"); got != "7" {
		t.Errorf("Expected 7, got %q", got)
	}
	if got := DigString(jsonPayload, "data.missing", "data.items.5.id", "data.reference"); got != "r1" {
		t.Errorf("Expected first non-empty path to win, got %q", got)
	}

	formPayload := DecodePayload([]byte("id=tr_123&extra=1"))
	if got := DigString(formPayload, "id"); got != "tr_123" {
		t.Errorf("Expected tr_123, got %q", got)
	}

	if got := DecodePayload(nil); len(got) != 0 {
		t.Errorf("Expected empty payload, got %v", got)
	}
}

func TestParseTime(t *testing.T) {
	expected := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		input string
		ok    bool
	}{
		{"2024-01-02T10:00:00Z", true},
		{"2024-01-02T10:00:00.000Z", true},
		{"2024-01-02 10:00:00", true},
		{"2024-01-02 10:00:00.000", true},
		{"1704189600", true},
		{"1704189600000", true},
		{"", false},
		{"yesterday", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseTime(tt.input)
			if !tt.ok {
				if got != nil {
					t.Errorf("Expected nil, got %v", got)
				}
				return
			}
			if got == nil || !got.Equal(expected) {
				t.Errorf("Expected %v, got %v", expected, got)
			}
		})
	}
}
