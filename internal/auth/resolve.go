package auth

import (
	"github.com/samber/lo"

	"github.com/cortexlake/cdl/internal/sdk"
)

// Resolver picks the authoritative value of a credential field from the
// instance, environment and store tiers.
type Resolver struct {
	Mode Precedence

	// AnyInstance reports that at least one credential field was supplied
	// on the instance.
	AnyInstance bool

	Getenv func(string) string
	Store  func(field sdk.Field) (string, error)
}

// AnyEnv reports whether any PAN_* credential variable is set.
func (r Resolver) AnyEnv() bool {
	return lo.SomeBy(sdk.Fields, func(f sdk.Field) bool {
		return r.Getenv(f.EnvName()) != ""
	})
}

// Resolve returns the value of field given its instance value. An empty
// result means absent.
func (r Resolver) Resolve(field sdk.Field, instance string) (string, error) {
	if instance != "" {
		return instance, nil
	}

	switch r.Mode {
	case PrecedencePerField:
		if v := r.Getenv(field.EnvName()); v != "" {
			return v, nil
		}
	default:
		if r.AnyInstance {
			return "", nil
		}
		if r.AnyEnv() {
			return r.Getenv(field.EnvName()), nil
		}
	}

	if r.Store == nil {
		return "", nil
	}
	return r.Store(field)
}
