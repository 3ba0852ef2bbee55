package payment

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Mekazstan/paygate/internal/cache"
	"github.com/Mekazstan/paygate/internal/store"
	"go.uber.org/zap"
)

const (
	defaultHealthCheckTTL = 5 * time.Minute
	defaultSessionTTL     = time.Hour

	healthKeyPrefix  = "payments:health:"
	sessionKeyPrefix = "payments:session:"
)

// Recorder receives per-provider outcomes for charge and verify calls.
type Recorder interface {
	ObserveCharge(provider, outcome string, elapsed time.Duration)
	ObserveVerify(provider, outcome string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCharge(string, string, time.Duration) {}
func (nopRecorder) ObserveVerify(string, string, time.Duration) {}

type Config struct {
	Default        string
	Fallback       string
	Providers      map[string]DriverConfig
	HealthCheckTTL time.Duration
	SessionTTL     time.Duration
}

type ManagerDeps struct {
	Factory  *DriverFactory
	Detector *ProviderDetector
	Store    store.TransactionStore
	Cache    cache.Store
	Logger   *zap.Logger
	Recorder Recorder
}

// Manager orchestrates drivers: fallback charging, verification context
// resolution and transaction bookkeeping. Bookkeeping failures are logged
// and never change the outcome of a charge or verification.
type Manager struct {
	cfg      Config
	factory  *DriverFactory
	detector *ProviderDetector
	store    store.TransactionStore
	cache    cache.Store
	logger   *zap.Logger
	recorder Recorder

	mu      sync.Mutex
	drivers map[string]Driver
}

func NewManager(cfg Config, deps ManagerDeps) *Manager {
	if deps.Factory == nil {
		deps.Factory = NewDriverFactory(Dependencies{Logger: deps.Logger})
	}
	if deps.Detector == nil {
		deps.Detector = DefaultProviderDetector()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if cfg.HealthCheckTTL <= 0 {
		cfg.HealthCheckTTL = defaultHealthCheckTTL
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}

	providers := make(map[string]DriverConfig, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		providers[strings.ToLower(name)] = pc
	}
	cfg.Providers = providers
	cfg.Default = strings.ToLower(strings.TrimSpace(cfg.Default))
	cfg.Fallback = strings.ToLower(strings.TrimSpace(cfg.Fallback))

	return &Manager{
		cfg:      cfg,
		factory:  deps.Factory,
		detector: deps.Detector,
		store:    deps.Store,
		cache:    deps.Cache,
		logger:   deps.Logger,
		recorder: deps.Recorder,
		drivers:  make(map[string]Driver),
	}
}

func (m *Manager) DefaultProvider() string { return m.cfg.Default }

func (m *Manager) Statuses() *StatusNormalizer { return m.factory.Statuses() }

func (m *Manager) Detector() *ProviderDetector { return m.detector }

// EnabledProviders returns configured providers not explicitly disabled, sorted.
func (m *Manager) EnabledProviders() []string {
	var names []string
	for name, pc := range m.cfg.Providers {
		if pc.IsEnabled() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (m *Manager) isEnabled(name string) bool {
	pc, ok := m.cfg.Providers[name]
	return ok && pc.IsEnabled()
}

// FallbackChain returns explicit when given, else [default, fallback] with
// blanks and duplicates removed.
func (m *Manager) FallbackChain(explicit []string) []string {
	candidates := explicit
	if len(candidates) == 0 {
		candidates = []string{m.cfg.Default, m.cfg.Fallback}
	}

	chain := make([]string, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, name := range candidates {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || name == "false" || seen[name] {
			continue
		}
		seen[name] = true
		chain = append(chain, name)
	}
	return chain
}

// Driver returns the cached driver for name, or the default provider when
// name is empty.
func (m *Manager) Driver(name string) (Driver, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = m.cfg.Default
	}
	if name == "" {
		return nil, &DriverNotFoundError{Provider: name, Reason: "no default provider configured"}
	}

	pc, ok := m.cfg.Providers[name]
	if !ok {
		return nil, &DriverNotFoundError{Provider: name, Reason: "provider not configured"}
	}
	if !pc.IsEnabled() {
		return nil, &DriverNotFoundError{Provider: name, Reason: "provider disabled"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if drv, ok := m.drivers[name]; ok {
		return drv, nil
	}
	drv, err := m.factory.Create(name, pc)
	if err != nil {
		return nil, err
	}
	m.drivers[name] = drv
	return drv, nil
}

// Healthy memoizes each provider's health check in the cache store.
func (m *Manager) Healthy(ctx context.Context, name string, drv Driver) bool {
	key := healthKeyPrefix + name
	if m.cache != nil {
		if v, err := m.cache.Get(ctx, key); err == nil {
			return v == "1"
		} else if !errors.Is(err, cache.ErrMiss) {
			m.logger.Warn("health cache read failed", zap.String("provider", name), zap.Error(err))
		}
	}

	healthy := drv.HealthCheck(ctx)

	if m.cache != nil {
		v := "0"
		if healthy {
			v = "1"
		}
		if err := m.cache.Set(ctx, key, v, m.cfg.HealthCheckTTL); err != nil {
			m.logger.Warn("health cache write failed", zap.String("provider", name), zap.Error(err))
		}
	}
	return healthy
}

// RefreshHealth re-runs every enabled provider's health check and stores
// the result, replacing any memoized value.
func (m *Manager) RefreshHealth(ctx context.Context) map[string]bool {
	out := make(map[string]bool)
	for _, name := range m.EnabledProviders() {
		drv, err := m.Driver(name)
		if err != nil {
			m.logger.Warn("driver unavailable", zap.String("provider", name), zap.Error(err))
			out[name] = false
			continue
		}
		if m.cache != nil {
			_ = m.cache.Delete(ctx, healthKeyPrefix+name)
		}
		out[name] = m.Healthy(ctx, name, drv)
	}
	return out
}

// ChargeWithFallback tries each provider of the chain in order and returns
// the first successful charge.
func (m *Manager) ChargeWithFallback(ctx context.Context, req *ChargeRequest, providers []string) (*ChargeResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	chain := m.FallbackChain(providers)
	failures := make(map[string]string, len(chain))

	for _, name := range chain {
		if !m.isEnabled(name) {
			failures[name] = "provider disabled or not configured"
			m.recorder.ObserveCharge(name, "skipped", 0)
			continue
		}

		drv, err := m.Driver(name)
		if err != nil {
			var cfgErr *InvalidConfigurationError
			if errors.As(err, &cfgErr) {
				return nil, err
			}
			failures[name] = err.Error()
			continue
		}

		if !drv.IsCurrencySupported(req.Currency) {
			failures[name] = "currency " + req.Currency + " not supported"
			m.recorder.ObserveCharge(name, "skipped", 0)
			continue
		}
		if !m.Healthy(ctx, name, drv) {
			failures[name] = "health check failed"
			m.recorder.ObserveCharge(name, "skipped", 0)
			continue
		}

		start := time.Now()
		resp, err := drv.Charge(ctx, req)
		if err != nil {
			m.recorder.ObserveCharge(name, "error", time.Since(start))
			m.logger.Warn("charge attempt failed", zap.String("provider", name), zap.Error(err))
			failures[name] = err.Error()
			continue
		}
		m.recorder.ObserveCharge(name, "success", time.Since(start))

		resp.Provider = name
		m.recordCharge(ctx, name, req, resp)
		return resp, nil
	}

	if len(chain) == 0 {
		failures["manager"] = "no providers in fallback chain"
	}
	return nil, &ProviderError{Message: "all payment providers failed", Context: failures}
}

// Charge charges through a single named provider, or the default one.
func (m *Manager) Charge(ctx context.Context, req *ChargeRequest, provider string) (*ChargeResponse, error) {
	if provider == "" {
		provider = m.cfg.Default
	}
	return m.ChargeWithFallback(ctx, req, []string{provider})
}

type sessionEntry struct {
	Provider   string `json:"provider"`
	ProviderID string `json:"provider_id,omitempty"`
}

func (m *Manager) recordCharge(ctx context.Context, name string, req *ChargeRequest, resp *ChargeResponse) {
	log := m.logger.With(zap.String("provider", name), zap.String("reference", resp.Reference))

	if m.store != nil {
		metadata := make(map[string]any, len(resp.Metadata)+len(req.Metadata))
		for k, v := range req.Metadata {
			metadata[k] = v
		}
		for k, v := range resp.Metadata {
			metadata[k] = v
		}
		tx := &store.Transaction{
			Reference: resp.Reference,
			Provider:  name,
			Status:    NormalizeStatus(resp.Status),
			Amount:    req.Amount,
			Currency:  req.Currency,
			Email:     req.Email,
			Metadata:  metadata,
			Customer:  req.Customer,
		}
		if err := m.store.Create(ctx, tx); err != nil {
			log.Error("failed to persist transaction", zap.Error(err))
		}
	}

	if m.cache != nil {
		entry, err := json.Marshal(sessionEntry{Provider: name, ProviderID: resp.ProviderID()})
		if err == nil {
			err = m.cache.Set(ctx, sessionKeyPrefix+resp.Reference, string(entry), m.cfg.SessionTTL)
		}
		if err != nil {
			log.Warn("failed to cache payment session", zap.Error(err))
		}
	}
}

type verifyTarget struct {
	provider string
	id       string
	source   string
}

type verifyResolver func(ctx context.Context, reference, provider string) (verifyTarget, bool)

func (m *Manager) resolvers() []verifyResolver {
	return []verifyResolver{
		m.fromExplicit,
		m.fromSession,
		m.fromStore,
		m.fromPrefix,
	}
}

func (m *Manager) fromExplicit(_ context.Context, reference, provider string) (verifyTarget, bool) {
	if provider == "" {
		return verifyTarget{}, false
	}
	return verifyTarget{provider: provider, id: reference, source: "explicit"}, true
}

func (m *Manager) fromSession(ctx context.Context, reference, _ string) (verifyTarget, bool) {
	if m.cache == nil {
		return verifyTarget{}, false
	}
	raw, err := m.cache.Get(ctx, sessionKeyPrefix+reference)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			m.logger.Warn("session cache read failed", zap.String("reference", reference), zap.Error(err))
		}
		return verifyTarget{}, false
	}
	var entry sessionEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.Provider == "" {
		return verifyTarget{}, false
	}
	id := entry.ProviderID
	if id == "" {
		id = reference
	}
	return verifyTarget{provider: entry.Provider, id: id, source: "session"}, true
}

func (m *Manager) fromStore(ctx context.Context, reference, _ string) (verifyTarget, bool) {
	if m.store == nil {
		return verifyTarget{}, false
	}
	tx, err := m.store.GetByReference(ctx, reference)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.logger.Warn("transaction lookup failed", zap.String("reference", reference), zap.Error(err))
		}
		return verifyTarget{}, false
	}
	if tx.Provider == "" {
		return verifyTarget{}, false
	}
	id := tx.MetadataString(MetaProviderID, MetaSessionID, MetaOrderID)
	if id == "" {
		id = reference
	}
	return verifyTarget{provider: tx.Provider, id: id, source: "store"}, true
}

func (m *Manager) fromPrefix(_ context.Context, reference, _ string) (verifyTarget, bool) {
	provider := m.detector.DetectFromReference(reference)
	if provider == "" {
		return verifyTarget{}, false
	}
	return verifyTarget{provider: provider, id: reference, source: "prefix"}, true
}

// Verify resolves which provider and id to verify reference with, in order:
// explicit provider, session cache, stored transaction, reference prefix.
// With no match it tries the default provider and then every other enabled
// one.
func (m *Manager) Verify(ctx context.Context, reference, provider string) (*VerificationResponse, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, &ValidationError{Field: "reference", Message: "is required"}
	}
	provider = strings.ToLower(strings.TrimSpace(provider))

	for _, resolve := range m.resolvers() {
		target, ok := resolve(ctx, reference, provider)
		if !ok {
			continue
		}
		m.logger.Debug("verification context resolved",
			zap.String("reference", reference),
			zap.String("provider", target.provider),
			zap.String("source", target.source))
		return m.verifyWith(ctx, reference, target)
	}

	var candidates []string
	if m.cfg.Default != "" {
		candidates = append(candidates, m.cfg.Default)
	}
	for _, name := range m.EnabledProviders() {
		if name != m.cfg.Default {
			candidates = append(candidates, name)
		}
	}

	failures := make(map[string]string, len(candidates))
	for _, name := range candidates {
		resp, err := m.verifyWith(ctx, reference, verifyTarget{provider: name, id: reference, source: "scan"})
		if err == nil {
			return resp, nil
		}
		failures[name] = err.Error()
	}
	if len(failures) == 0 {
		failures["manager"] = "no enabled providers"
	}
	return nil, &ProviderError{Message: "unable to verify payment with any provider", Context: failures}
}

func (m *Manager) verifyWith(ctx context.Context, reference string, target verifyTarget) (*VerificationResponse, error) {
	drv, err := m.Driver(target.provider)
	if err != nil {
		return nil, err
	}

	id := drv.ResolveVerificationID(reference, target.id)

	start := time.Now()
	resp, err := drv.Verify(ctx, id)
	if err != nil {
		m.recorder.ObserveVerify(target.provider, "error", time.Since(start))
		return nil, err
	}
	m.recorder.ObserveVerify(target.provider, "success", time.Since(start))

	resp.Provider = target.provider
	upd := store.StatusUpdate{Status: resp.Status, PaidAt: resp.PaidAt}
	if resp.Channel != "" {
		channel := resp.Channel
		upd.Channel = &channel
	}
	if err := m.UpdateTransaction(ctx, reference, upd); err != nil && !errors.Is(err, store.ErrNotFound) {
		m.logger.Error("failed to update transaction after verify",
			zap.String("reference", reference), zap.Error(err))
	}
	return resp, nil
}

// UpdateTransaction applies upd to the stored transaction. It returns
// store.ErrNotFound when no transaction matches.
func (m *Manager) UpdateTransaction(ctx context.Context, reference string, upd store.StatusUpdate) error {
	if m.store == nil {
		return store.ErrNotFound
	}
	return m.store.UpdateStatus(ctx, reference, upd)
}

// PendingTransactions lists pending transactions created before cutoff.
func (m *Manager) PendingTransactions(ctx context.Context, cutoff time.Time, limit int) ([]store.Transaction, error) {
	if m.store == nil {
		return nil, nil
	}
	return m.store.ListByStatus(ctx, StatusPending, cutoff, limit)
}
