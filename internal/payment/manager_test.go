package payment

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Mekazstan/paygate/internal/cache"
	"github.com/Mekazstan/paygate/internal/store"
	"github.com/shopspring/decimal"
)

type fakeDriver struct {
	baseDriver

	mu          sync.Mutex
	healthy     bool
	healthCalls int
	chargeErr   error
	providerID  string
	verifyErr   error
	verifyCalls []string
}

func newFakeDriver(name string, currencies ...string) *fakeDriver {
	return &fakeDriver{
		baseDriver: newBaseDriver(name, strings.ToUpper(name), "", currencies, DriverConfig{}, Dependencies{}),
		healthy:    true,
	}
}

func (f *fakeDriver) Charge(_ context.Context, req *ChargeRequest) (*ChargeResponse, error) {
	if f.chargeErr != nil {
		return nil, f.chargeErr
	}
	resp := &ChargeResponse{
		Reference:        f.referenceFor(req),
		AuthorizationURL: "https://pay.example/" + f.name,
		AccessCode:       "code",
		Status:           StatusPending,
		Metadata:         map[string]any{},
		Provider:         f.name,
	}
	if f.providerID != "" {
		resp.Metadata[MetaProviderID] = f.providerID
	}
	return resp, nil
}

func (f *fakeDriver) Verify(_ context.Context, id string) (*VerificationResponse, error) {
	f.mu.Lock()
	f.verifyCalls = append(f.verifyCalls, id)
	f.mu.Unlock()
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	paidAt := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	return &VerificationResponse{
		Reference: id,
		Status:    StatusSuccess,
		Amount:    decimal.NewFromInt(100),
		Currency:  "NGN",
		PaidAt:    &paidAt,
		Channel:   "card",
		Provider:  f.name,
	}, nil
}

func (f *fakeDriver) ValidateWebhook(context.Context, http.Header, []byte) bool { return true }
func (f *fakeDriver) ExtractWebhookReference(p map[string]any) string { return DigString(p, "reference") }
func (f *fakeDriver) ExtractWebhookStatus(p map[string]any) string { return DigString(p, "status") }
func (f *fakeDriver) ExtractWebhookChannel(p map[string]any) string { return DigString(p, "channel") }

func (f *fakeDriver) HealthCheck(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthCalls++
	return f.healthy
}

type managerFixture struct {
	manager *Manager
	drivers map[string]*fakeDriver
	store   *store.MemoryStore
	cache   *cache.MemoryCache
}

func newManagerFixture(t *testing.T, cfg Config, drivers ...*fakeDriver) *managerFixture {
	t.Helper()

	factory := NewDriverFactory(Dependencies{})
	byName := make(map[string]*fakeDriver, len(drivers))
	for _, d := range drivers {
		byName[d.name] = d
		factory.Register(d.name, func(DriverConfig, Dependencies) (Driver, error) { return d, nil })
	}

	txStore := store.NewMemoryStore()
	memCache := cache.NewMemoryCache()
	m := NewManager(cfg, ManagerDeps{Factory: factory, Store: txStore, Cache: memCache})
	return &managerFixture{manager: m, drivers: byName, store: txStore, cache: memCache}
}

func enabled(v bool) *bool { return &v }

func chargeRequest() *ChargeRequest {
	return &ChargeRequest{Amount: decimal.NewFromInt(10000), Currency: "NGN", Email: "a@b.com"}
}

func TestFallbackChain(t *testing.T) {
	tests := []struct {
		name     string
		def      string
		fallback string
		explicit []string
		expected []string
	}{
		{"same default and fallback", "paystack", "paystack", nil, []string{"paystack"}},
		{"empty fallback", "paystack", "", nil, []string{"paystack"}},
		{"false fallback", "paystack", "false", nil, []string{"paystack"}},
		{"default then fallback", "paystack", "flutterwave", nil, []string{"paystack", "flutterwave"}},
		{"explicit wins", "paystack", "flutterwave", []string{"stripe", "Stripe", "mollie"}, []string{"stripe", "mollie"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(Config{Default: tt.def, Fallback: tt.fallback}, ManagerDeps{})
			got := m.FallbackChain(tt.explicit)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestEnabledProviders(t *testing.T) {
	m := NewManager(Config{Providers: map[string]DriverConfig{
		"paystack": {},
		"stripe":   {Enabled: enabled(true)},
		"mollie":   {Enabled: enabled(false)},
	}}, ManagerDeps{})

	expected := []string{"paystack", "stripe"}
	if got := m.EnabledProviders(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected %v, got %v", expected, got)
	}
}

func TestManagerDriver(t *testing.T) {
	f := newManagerFixture(t, Config{
		Default: "alpha",
		Providers: map[string]DriverConfig{
			"alpha": {},
			"beta":  {Enabled: enabled(false)},
		},
	}, newFakeDriver("alpha", "NGN"), newFakeDriver("beta", "NGN"))

	first, err := f.manager.Driver("")
	if err != nil {
		t.Fatalf("Expected default driver, got %v", err)
	}
	second, _ := f.manager.Driver("ALPHA")
	if first != second {
		t.Error("Expected driver instance to be cached")
	}

	for _, name := range []string{"beta", "gamma"} {
		_, err := f.manager.Driver(name)
		var notFound *DriverNotFoundError
		if !errors.As(err, &notFound) {
			t.Errorf("Expected DriverNotFoundError for %s, got %v", name, err)
		}
	}
}

func TestChargeWithFallbackFirstSuccessWins(t *testing.T) {
	alpha := newFakeDriver("alpha", "NGN")
	alpha.chargeErr = &ChargeError{Provider: "alpha", Message: "boom"}
	beta := newFakeDriver("beta", "NGN")
	beta.providerID = "beta_999"
	gamma := newFakeDriver("gamma", "NGN")
	gamma.chargeErr = errors.New("gamma should not be called")

	f := newManagerFixture(t, Config{
		Providers: map[string]DriverConfig{"alpha": {}, "beta": {}, "gamma": {}},
	}, alpha, beta, gamma)

	resp, err := f.manager.ChargeWithFallback(context.Background(), chargeRequest(), []string{"alpha", "beta", "gamma"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if resp.Provider != "beta" {
		t.Errorf("Expected beta to win, got %s", resp.Provider)
	}

	tx, err := f.store.GetByReference(context.Background(), resp.Reference)
	if err != nil {
		t.Fatalf("Expected transaction to be persisted, got %v", err)
	}
	if tx.Provider != "beta" || tx.Status != StatusPending || tx.MetadataString(MetaProviderID) != "beta_999" {
		t.Errorf("Unexpected stored transaction: %+v", tx)
	}
	if !tx.Amount.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("Expected amount 10000, got %s", tx.Amount)
	}

	if _, err := f.cache.Get(context.Background(), sessionKeyPrefix+resp.Reference); err != nil {
		t.Errorf("Expected session entry to be cached, got %v", err)
	}
}

func TestChargeWithFallbackAllSkipped(t *testing.T) {
	f := newManagerFixture(t, Config{
		Default:  "alpha",
		Fallback: "beta",
		Providers: map[string]DriverConfig{
			"alpha": {Enabled: enabled(false)},
			"beta":  {},
		},
	}, newFakeDriver("alpha", "NGN"), newFakeDriver("beta", "USD"))

	_, err := f.manager.ChargeWithFallback(context.Background(), chargeRequest(), nil)

	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("Expected *ProviderError, got %v", err)
	}
	for _, name := range []string{"alpha", "beta"} {
		if _, ok := providerErr.Context[name]; !ok {
			t.Errorf("Expected %s in context, got %v", name, providerErr.Context)
		}
	}
	if !strings.Contains(providerErr.Context["beta"], "NGN") {
		t.Errorf("Expected currency reason for beta, got %q", providerErr.Context["beta"])
	}
}

func TestChargeWithFallbackSkipsUnhealthy(t *testing.T) {
	alpha := newFakeDriver("alpha", "NGN")
	alpha.healthy = false
	beta := newFakeDriver("beta", "NGN")

	f := newManagerFixture(t, Config{
		Providers: map[string]DriverConfig{"alpha": {}, "beta": {}},
	}, alpha, beta)

	for i := 0; i < 3; i++ {
		resp, err := f.manager.ChargeWithFallback(context.Background(), chargeRequest(), []string{"alpha", "beta"})
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if resp.Provider != "beta" {
			t.Errorf("Expected beta, got %s", resp.Provider)
		}
	}
	if alpha.healthCalls != 1 {
		t.Errorf("Expected health check to be memoized, got %d calls", alpha.healthCalls)
	}
}

func TestChargeWithFallbackValidation(t *testing.T) {
	f := newManagerFixture(t, Config{Default: "alpha", Providers: map[string]DriverConfig{"alpha": {}}},
		newFakeDriver("alpha", "NGN"))

	req := chargeRequest()
	req.Amount = decimal.Zero
	_, err := f.manager.ChargeWithFallback(context.Background(), req, nil)
	if !IsValidationError(err) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestChargeSurvivesStoreFailure(t *testing.T) {
	alpha := newFakeDriver("alpha", "NGN")
	f := newManagerFixture(t, Config{Default: "alpha", Providers: map[string]DriverConfig{"alpha": {}}}, alpha)

	req := chargeRequest()
	req.Reference = "ALPHA_dup"
	if _, err := f.manager.Charge(context.Background(), req, ""); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	// Second insert of the same reference fails inside the store only.
	if _, err := f.manager.Charge(context.Background(), req, ""); err != nil {
		t.Errorf("Expected store failure to be swallowed, got %v", err)
	}
}

func TestVerifyResolutionPrecedence(t *testing.T) {
	ctx := context.Background()

	t.Run("explicit provider", func(t *testing.T) {
		alpha, beta := newFakeDriver("alpha", "NGN"), newFakeDriver("beta", "NGN")
		f := newManagerFixture(t, Config{Default: "alpha", Providers: map[string]DriverConfig{"alpha": {}, "beta": {}}}, alpha, beta)

		if _, err := f.manager.Verify(ctx, "ALPHA_1", "beta"); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if len(beta.verifyCalls) != 1 || beta.verifyCalls[0] != "ALPHA_1" || len(alpha.verifyCalls) != 0 {
			t.Errorf("Expected explicit provider to win, alpha=%v beta=%v", alpha.verifyCalls, beta.verifyCalls)
		}
	})

	t.Run("session cache before store", func(t *testing.T) {
		alpha, beta := newFakeDriver("alpha", "NGN"), newFakeDriver("beta", "NGN")
		beta.providerID = "beta_session"
		f := newManagerFixture(t, Config{Default: "alpha", Providers: map[string]DriverConfig{"alpha": {}, "beta": {}}}, alpha, beta)

		req := chargeRequest()
		req.Reference = "ref_session"
		if _, err := f.manager.Charge(ctx, req, "beta"); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}

		resp, err := f.manager.Verify(ctx, "ref_session", "")
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if len(beta.verifyCalls) != 1 || beta.verifyCalls[0] != "beta_session" {
			t.Errorf("Expected verification with the provider id, got %v", beta.verifyCalls)
		}
		if resp.Provider != "beta" {
			t.Errorf("Expected provider beta, got %s", resp.Provider)
		}

		tx, _ := f.store.GetByReference(ctx, "ref_session")
		if tx.Status != StatusSuccess || tx.PaidAt == nil || tx.Channel == nil || *tx.Channel != "card" {
			t.Errorf("Expected stored transaction to be updated, got %+v", tx)
		}
	})

	t.Run("stored metadata", func(t *testing.T) {
		alpha, beta := newFakeDriver("alpha", "NGN"), newFakeDriver("beta", "NGN")
		f := newManagerFixture(t, Config{Default: "alpha", Providers: map[string]DriverConfig{"alpha": {}, "beta": {}}}, alpha, beta)

		f.store.Create(ctx, &store.Transaction{
			Reference: "ref_stored",
			Provider:  "beta",
			Status:    StatusPending,
			Metadata:  map[string]any{MetaSessionID: "sess_1", MetaOrderID: "order_1"},
		})

		if _, err := f.manager.Verify(ctx, "ref_stored", ""); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if len(beta.verifyCalls) != 1 || beta.verifyCalls[0] != "sess_1" {
			t.Errorf("Expected session_id before order_id, got %v", beta.verifyCalls)
		}
	})

	t.Run("reference prefix", func(t *testing.T) {
		alpha, beta := newFakeDriver("alpha", "NGN"), newFakeDriver("beta", "NGN")
		f := newManagerFixture(t, Config{Default: "alpha", Providers: map[string]DriverConfig{"alpha": {}, "beta": {}}}, alpha, beta)
		f.manager.Detector().Register("BETA", "beta")

		if _, err := f.manager.Verify(ctx, "BETA_123_abc", ""); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if len(beta.verifyCalls) != 1 || len(alpha.verifyCalls) != 0 {
			t.Errorf("Expected prefix detection to pick beta, alpha=%v beta=%v", alpha.verifyCalls, beta.verifyCalls)
		}
	})

	t.Run("default provider", func(t *testing.T) {
		alpha, beta := newFakeDriver("alpha", "NGN"), newFakeDriver("beta", "NGN")
		f := newManagerFixture(t, Config{Default: "alpha", Providers: map[string]DriverConfig{"alpha": {}, "beta": {}}}, alpha, beta)

		if _, err := f.manager.Verify(ctx, "opaque-ref", ""); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if len(alpha.verifyCalls) != 1 || len(beta.verifyCalls) != 0 {
			t.Errorf("Expected default provider, alpha=%v beta=%v", alpha.verifyCalls, beta.verifyCalls)
		}
	})
}

func TestVerifyAggregatesFailures(t *testing.T) {
	alpha, beta := newFakeDriver("alpha", "NGN"), newFakeDriver("beta", "NGN")
	alpha.verifyErr = &VerificationError{Provider: "alpha", Message: "not found"}
	beta.verifyErr = &VerificationError{Provider: "beta", Message: "not found"}

	f := newManagerFixture(t, Config{Default: "alpha", Providers: map[string]DriverConfig{"alpha": {}, "beta": {}}}, alpha, beta)

	_, err := f.manager.Verify(context.Background(), "opaque-ref", "")
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("Expected *ProviderError, got %v", err)
	}
	if len(providerErr.Context) != 2 {
		t.Errorf("Expected both providers in context, got %v", providerErr.Context)
	}
}

func TestProviderErrorMessage(t *testing.T) {
	err := &ProviderError{Message: "all failed", Context: map[string]string{"b": "two", "a": "one"}}
	expected := "all failed (a: one; b: two)"
	if err.Error() != expected {
		t.Errorf("Expected %q, got %q", expected, err.Error())
	}
}
