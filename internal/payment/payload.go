package payment

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Metadata keys written by drivers and read back during verification.
const (
	MetaProviderID = "_provider_id"
	MetaSessionID  = "session_id"
	MetaOrderID    = "order_id"
)

// Dig walks nested maps and slices along path; numeric segments index slices.
func Dig(payload map[string]any, path ...string) any {
	var cur any = payload
	for _, seg := range path {
		switch node := cur.(type) {
		case map[string]any:
			cur = node[seg]
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil
			}
			cur = node[i]
		default:
			return nil
		}
	}
	return cur
}

// DigString returns the first non-empty value found among dotted paths.
func DigString(payload map[string]any, paths ...string) string {
	for _, p := range paths {
		if s := stringValue(Dig(payload, strings.Split(p, ".")...)); s != "" {
			return s
		}
	}
	return ""
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		return ""
	}
}

func mapValue(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func decimalValue(v any) decimal.Decimal {
	switch t := v.(type) {
	case decimal.Decimal:
		return t
	case float64:
		return decimal.NewFromFloat(t)
	case int64:
		return decimal.NewFromInt(t)
	case int:
		return decimal.NewFromInt(int64(t))
	}
	d, err := decimal.NewFromString(stringValue(v))
	if err != nil {
		return decimal.Zero
	}
	return d
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// parseTime accepts the timestamp shapes providers send; nil when blank or unparseable.
func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil && unix > 0 {
		t := time.Unix(unix, 0).UTC()
		if unix > 1e12 {
			t = time.UnixMilli(unix).UTC()
		}
		return &t
	}
	return nil
}

// DecodePayload parses a webhook body. JSON objects decode as maps;
// form-encoded bodies are flattened into a map of strings.
func DecodePayload(body []byte) map[string]any {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		return payload
	}
	return decodeForm(body)
}

func decodeForm(body []byte) map[string]any {
	values, err := url.ParseQuery(string(body))
	if err != nil || len(values) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
