// Package credstore provides credential store adapters and the registry
// used to select one by name.
package credstore

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/cortexlake/cdl/internal/sdk"
	cdlerrors "github.com/cortexlake/cdl/internal/sdk/errors"
)

// Default adapter name.
const DefaultAdapter = "file"

// Params configures a store adapter.
type Params struct {
	// Path of the credentials file (file adapter only).
	Path string `validate:"omitempty,filepath"`

	// Service name for the system keyring (keyring adapter only).
	Service string `validate:"omitempty,printascii,excludes=::"`

	// Getenv overrides os.Getenv, mostly for tests.
	Getenv func(string) string `validate:"-"`

	Logger *slog.Logger `validate:"-"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (p Params) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// Factory builds a store from params.
type Factory func(p Params) (sdk.CredentialStore, error)

// Registry maps adapter names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Builtin returns a registry with the file, keyring and memory adapters.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register("file", func(p Params) (sdk.CredentialStore, error) {
		return NewFileStore(p), nil
	})
	r.Register("keyring", func(p Params) (sdk.CredentialStore, error) {
		return NewKeyringStore(p), nil
	})
	r.Register("memory", func(p Params) (sdk.CredentialStore, error) {
		return NewMemoryStore(), nil
	})
	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Names returns the registered adapter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.Keys(r.factories)
	slices.Sort(names)
	return names
}

// Open builds the named adapter and initializes it.
// An empty name selects DefaultAdapter.
func (r *Registry) Open(name string, p Params) (sdk.CredentialStore, error) {
	if name == "" {
		name = DefaultAdapter
	}
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, cdlerrors.ErrConfigurationf("unknown credential store %q (available: %v)", name, r.Names())
	}
	if err := validate.Struct(p); err != nil {
		return nil, cdlerrors.ErrConfigurationf("invalid %s store parameters: %v", name, err)
	}

	store, err := f(p)
	if err != nil {
		return nil, err
	}
	if err := store.Init(); err != nil {
		return nil, err
	}
	p.logger().Debug("credential store opened", "adapter", name)
	return store, nil
}

func storeErr(op, profile string, cause error) error {
	return cdlerrors.ErrStore(&sdk.StoreError{Operation: op, Profile: profile, Cause: cause})
}
