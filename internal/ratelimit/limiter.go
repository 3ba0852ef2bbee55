package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/Mekazstan/paygate/internal/cache"
	"go.uber.org/zap"
)

const keyPrefix = "ratelimit:charge:"

// Subject identifies who is charging. The most specific non-empty field wins:
// identity, then email, then IP, then a single global bucket.
type Subject struct {
	Identity string
	Email    string
	IP       string
}

// Key returns the bucket name for s. Emails are hashed so they never appear
// in cache keys.
func (s Subject) Key() string {
	if id := strings.TrimSpace(s.Identity); id != "" {
		return "identity:" + id
	}
	if email := strings.ToLower(strings.TrimSpace(s.Email)); email != "" {
		sum := sha256.Sum256([]byte(email))
		return "email:" + hex.EncodeToString(sum[:])
	}
	if ip := strings.TrimSpace(s.IP); ip != "" {
		return "ip:" + ip
	}
	return "global"
}

type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the number of whole seconds until the window resets.
func (d Decision) RetryAfter(now time.Time) int {
	secs := int(d.ResetAt.Sub(now).Round(time.Second) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter is a fixed-window counter per Subject stored in a cache.Store.
type Limiter struct {
	store  cache.Store
	limit  int
	window time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func New(store cache.Store, limit int, window time.Duration, logger *zap.Logger) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		store:  store,
		limit:  limit,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

func (l *Limiter) Limit() int { return l.limit }

// Allow counts one attempt for s. A counter store failure lets the request
// through.
func (l *Limiter) Allow(ctx context.Context, s Subject) Decision {
	now := l.now()
	d := Decision{Allowed: true, Limit: l.limit, Remaining: l.limit, ResetAt: now.Add(l.window)}
	if l.limit <= 0 {
		return d
	}

	key := s.Key()
	count, err := l.store.IncrWithExpire(ctx, keyPrefix+key, l.window)
	if err != nil {
		l.logger.Warn("rate limit counter unavailable",
			zap.String("bucket", key),
			zap.Error(err),
		)
		return d
	}

	if count > int64(l.limit) {
		d.Allowed = false
		d.Remaining = 0
		return d
	}
	d.Remaining = l.limit - int(count)
	return d
}
