package config

import (
	"reflect"

	cperr "github.com/mozaiks/control-plane/pkg/errors"
)

// Validator lets a config struct carry its own invariants beyond what
// the `required` tag can express. When the struct handed to
// [Loader.Load] implements it, Validate runs after the required-field
// pass succeeds. Structured errors pass through untouched; plain errors
// are wrapped with [cperr.CodeValidation].
//
//	type MinterConfig struct {
//	    SigningSecret string        `env:"SIGNING_SECRET" required:"true"`
//	    TokenTTL      time.Duration `env:"TOKEN_TTL"`
//	}
//
//	func (c *MinterConfig) Validate() error {
//	    if c.TokenTTL < 0 {
//	        return cperr.Validationf("config: token_ttl %v is negative", c.TokenTTL)
//	    }
//	    return nil
//	}
type Validator interface {
	Validate() error
}

// validate runs the required-field pass over rv and then the Validator
// hook, if cfg implements it. cfg is the original interface value so
// the type assertion sees pointer receivers; rv is the dereferenced
// struct.
func validate(cfg any, rv reflect.Value) error {
	if err := validateRequired(rv, ""); err != nil {
		return err
	}

	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			if _, structured := cperr.AsError(err); structured {
				return err
			}
			return cperr.Wrap(err, cperr.CodeValidation,
				"config: custom validation failed")
		}
	}

	return nil
}

// validateRequired walks the struct and rejects any `required:"true"`
// field left at its zero value. path accumulates the dotted location
// for the error message, e.g. "Store.Host". Nested structs recurse;
// unexported fields are skipped.
func validateRequired(rv reflect.Value, path string) error {
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)

		if !field.CanSet() {
			continue
		}

		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}

		if field.Kind() == reflect.Struct {
			if err := validateRequired(field, fieldPath); err != nil {
				return err
			}
			continue
		}

		if sf.Tag.Get("required") != "true" {
			continue
		}

		if field.IsZero() {
			return cperr.Newf(cperr.CodeValidationRequired,
				"config: required field %q is empty", fieldPath)
		}
	}

	return nil
}
