package payment

import (
	"sort"
	"strings"
	"sync"
)

// Constructor builds a driver from its configuration. It returns an
// *InvalidConfigurationError when a required credential is missing.
type Constructor func(cfg DriverConfig, deps Dependencies) (Driver, error)

// DriverFactory is a name-keyed registry of driver constructors.
type DriverFactory struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
	deps  Dependencies
}

func NewDriverFactory(deps Dependencies) *DriverFactory {
	f := &DriverFactory{
		ctors: make(map[string]Constructor),
		deps:  deps.withDefaults(),
	}
	for name, ctor := range builtinDrivers() {
		f.Register(name, ctor)
	}
	return f
}

func builtinDrivers() map[string]Constructor {
	return map[string]Constructor{
		"paystack":    NewPaystackDriver,
		"flutterwave": NewFlutterwaveDriver,
		"monnify":     NewMonnifyDriver,
		"stripe":      NewStripeDriver,
		"paypal":      NewPayPalDriver,
		"mollie":      NewMollieDriver,
		"square":      NewSquareDriver,
		"nowpayments": NewNowPaymentsDriver,
	}
}

// Register adds or replaces the constructor for name.
func (f *DriverFactory) Register(name string, ctor Constructor) {
	f.mu.Lock()
	f.ctors[strings.ToLower(name)] = ctor
	f.mu.Unlock()
}

func (f *DriverFactory) Registered() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.ctors))
	for name := range f.ctors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create resolves the implementation by cfg.Driver, falling back to name.
func (f *DriverFactory) Create(name string, cfg DriverConfig) (Driver, error) {
	impl := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if impl == "" {
		impl = strings.ToLower(name)
	}

	f.mu.RLock()
	ctor, ok := f.ctors[impl]
	f.mu.RUnlock()
	if !ok {
		return nil, &DriverNotFoundError{Provider: name, Reason: "no implementation registered for " + impl}
	}
	return ctor(cfg, f.deps)
}

func (f *DriverFactory) Statuses() *StatusNormalizer { return f.deps.Statuses }

func (f *DriverFactory) Channels() *ChannelMapper { return f.deps.Channels }
