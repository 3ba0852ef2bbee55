package ratelimit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Mekazstan/paygate/internal/cache"
)

func TestSubjectKey(t *testing.T) {
	tests := []struct {
		name    string
		subject Subject
		prefix  string
	}{
		{
			name:    "Identity wins",
			subject: Subject{Identity: "user-1", Email: "a@b.com", IP: "10.0.0.1"},
			prefix:  "identity:user-1",
		},
		{
			name:    "Email when anonymous",
			subject: Subject{Email: "a@b.com", IP: "10.0.0.1"},
			prefix:  "email:",
		},
		{
			name:    "IP when no email",
			subject: Subject{IP: "10.0.0.1"},
			prefix:  "ip:10.0.0.1",
		},
		{
			name:    "Global bucket",
			subject: Subject{},
			prefix:  "global",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := tt.subject.Key()
			if !strings.HasPrefix(key, tt.prefix) {
				t.Errorf("Expected key with prefix %q, got %q", tt.prefix, key)
			}
		})
	}

	key := Subject{Email: " A@B.com "}.Key()
	if strings.Contains(key, "a@b.com") {
		t.Errorf("Expected email to be hashed, got %q", key)
	}
	if key != (Subject{Email: "a@b.com"}).Key() {
		t.Error("Expected email hashing to ignore case and whitespace")
	}
}

func TestLimiterAllow(t *testing.T) {
	ctx := context.Background()
	limiter := New(cache.NewMemoryCache(), 2, time.Minute, nil)
	subject := Subject{Identity: "user-1"}

	for i := 0; i < 2; i++ {
		d := limiter.Allow(ctx, subject)
		if !d.Allowed {
			t.Fatalf("Expected attempt %d to be allowed", i+1)
		}
		if d.Remaining != 1-i {
			t.Errorf("Expected remaining %d, got %d", 1-i, d.Remaining)
		}
	}

	d := limiter.Allow(ctx, subject)
	if d.Allowed {
		t.Error("Expected third attempt to be rejected")
	}
	if d.Remaining != 0 {
		t.Errorf("Expected remaining 0, got %d", d.Remaining)
	}

	if !limiter.Allow(ctx, Subject{Identity: "user-2"}).Allowed {
		t.Error("Expected a different identity to have its own bucket")
	}
}

type failingStore struct {
	cache.Store
}

func (failingStore) IncrWithExpire(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestLimiterAllowsWhenStoreFails(t *testing.T) {
	limiter := New(failingStore{}, 1, time.Minute, nil)

	for i := 0; i < 3; i++ {
		if !limiter.Allow(context.Background(), Subject{IP: "10.0.0.1"}).Allowed {
			t.Fatal("Expected requests to pass while the counter store is down")
		}
	}
}

func TestDecisionRetryAfter(t *testing.T) {
	now := time.Now()
	d := Decision{ResetAt: now.Add(30 * time.Second)}
	if got := d.RetryAfter(now); got != 30 {
		t.Errorf("Expected 30, got %d", got)
	}

	d = Decision{ResetAt: now.Add(-time.Second)}
	if got := d.RetryAfter(now); got != 1 {
		t.Errorf("Expected 1, got %d", got)
	}
}
