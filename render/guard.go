package render

import (
	"fmt"

	libinjection "github.com/corazawaf/libinjection-go"
	"github.com/shibukawa/twowaysql"
)

// Guard screens a string before it is embedded into SQL text.
type Guard interface {
	Check(value string) error
}

// InjectionGuard rejects values libinjection classifies as SQL injection.
type InjectionGuard struct{}

func (InjectionGuard) Check(value string) error {
	if isSQLi, fingerprint := libinjection.IsSQLi(value); isSQLi {
		return fmt.Errorf("%w: fingerprint %s", twowaysql.ErrUnsafeEmbeddedValue, fingerprint)
	}

	return nil
}

// GuardFunc adapts a function to Guard.
type GuardFunc func(value string) error

func (f GuardFunc) Check(value string) error {
	return f(value)
}
