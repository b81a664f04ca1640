// Package config loads control plane configuration from three layers,
// lowest priority first:
//
//	envDefault struct tags
//	a YAML or JSON config file
//	environment variables
//
// Defaults live in code, a file carries per-environment overrides, and
// env vars (ConfigMaps, Secrets) win. Three struct tags drive the
// loader: `env:"VAR"` binds a field to an environment variable,
// `envDefault:"v"` fills zero-valued fields, and `required:"true"`
// rejects fields still zero after all layers. File loading goes through
// the yaml/json tags, so fields need those too.
//
//	type AppConfig struct {
//	    Host    string        `env:"HOST" envDefault:"localhost" yaml:"host"`
//	    Port    int           `env:"PORT" envDefault:"8080" yaml:"port" required:"true"`
//	    Timeout time.Duration `env:"TIMEOUT" envDefault:"30s" yaml:"timeout"`
//	}
//
//	cfg := config.MustLoad[AppConfig](
//	    config.New().WithEnvPrefix("APP").WithFile("config.yaml"),
//	)
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	cperr "github.com/mozaiks/control-plane/pkg/errors"
)

// time.Duration reports Kind() == Int64, so traversal needs the
// concrete type to tell it apart from plain int64 fields.
var durationType = reflect.TypeOf(time.Duration(0))

// Loader resolves the three configuration layers into a struct. Build
// one with [New], chain [Loader.WithEnvPrefix] and [Loader.WithFile],
// then call [Loader.Load]. A Loader is not safe for concurrent use.
type Loader struct {
	envPrefix string
	filePath  string
}

// New returns a Loader that reads environment variables only, with no
// prefix and no file.
func New() *Loader {
	return &Loader{}
}

// WithEnvPrefix prepends prefix (uppercased, joined with "_") to every
// env tag lookup: with prefix "APP", a field tagged `env:"HOST"` reads
// APP_HOST. An empty prefix leaves names unprefixed.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile points the loader at a config file. The extension picks the
// parser: .yaml/.yml or .json; anything else fails Load. A missing
// file is fine, the file layer is optional. Paths containing ".." are
// rejected.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// Load fills cfg, which must be a non-nil pointer to a struct, by
// applying envDefault tags, then the file layer, then env vars, each
// layer overwriting the last. It then checks `required:"true"` fields
// and calls cfg's [Validator] if implemented. Failures come back as
// [*cperr.Error]: [cperr.CodeInternalConfiguration] for load problems,
// [cperr.CodeValidationRequired] or [cperr.CodeValidation] for
// validation.
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return cperr.New(cperr.CodeInternalConfiguration,
			"config: Load requires a non-nil pointer to a struct")
	}

	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return cperr.New(cperr.CodeInternalConfiguration,
			"config: Load requires a pointer to a struct")
	}

	if err := applyDefaults(rv); err != nil {
		return err
	}

	if l.filePath != "" {
		if err := l.loadFile(cfg); err != nil {
			return err
		}
	}

	if err := applyEnv(rv, l.envPrefix); err != nil {
		return err
	}

	return validate(cfg, rv)
}

// MustLoad loads a zero value of T through loader and panics on any
// load or validation error. Meant for func main, where bad config
// should stop the process.
func MustLoad[T any](loader *Loader) T {
	var cfg T
	if err := loader.Load(&cfg); err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

// loadFile unmarshals the configured file into cfg. A file that does
// not exist is skipped silently.
func (l *Loader) loadFile(cfg any) error {
	if strings.Contains(l.filePath, "..") {
		return cperr.New(cperr.CodeInternalConfiguration,
			"config: file path must not contain directory traversal (..) sequences")
	}

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return cperr.Wrapf(err, cperr.CodeInternalConfiguration,
			"config: failed to read file %q", l.filePath)
	}

	ext := strings.ToLower(filepath.Ext(l.filePath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return cperr.Wrapf(err, cperr.CodeInternalConfiguration,
				"config: failed to parse YAML file %q", l.filePath)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return cperr.Wrapf(err, cperr.CodeInternalConfiguration,
				"config: failed to parse JSON file %q", l.filePath)
		}
	default:
		return cperr.Newf(cperr.CodeInternalConfiguration,
			"config: unsupported file extension %q (use .yaml, .yml, or .json)", ext)
	}

	return nil
}

// applyDefaults walks the struct and writes each envDefault tag into
// its field when the field still holds its zero value. Nested structs
// are walked recursively.
func applyDefaults(rv reflect.Value) error {
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct && sf.Type != durationType {
			if err := applyDefaults(field); err != nil {
				return err
			}
			continue
		}

		tag := sf.Tag.Get("envDefault")
		if tag == "" {
			continue
		}

		if !field.IsZero() {
			continue
		}

		if err := setField(field, tag); err != nil {
			return cperr.Wrapf(err, cperr.CodeInternalConfiguration,
				"config: failed to apply default for field %q", sf.Name)
		}
	}

	return nil
}

// applyEnv walks the struct and writes set environment variables into
// fields carrying an env tag. A nested struct's own env tag joins the
// accumulated prefix with "_", so `env:"STORE"` containing `env:"HOST"`
// reads PREFIX_STORE_HOST. Unset variables leave fields untouched.
func applyEnv(rv reflect.Value, prefix string) error {
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)

		if !field.CanSet() {
			continue
		}

		envTag := sf.Tag.Get("env")

		if field.Kind() == reflect.Struct && sf.Type != durationType {
			nestedPrefix := prefix
			if envTag != "" {
				if nestedPrefix != "" {
					nestedPrefix = nestedPrefix + "_" + envTag
				} else {
					nestedPrefix = envTag
				}
			}
			if err := applyEnv(field, nestedPrefix); err != nil {
				return err
			}
			continue
		}

		if envTag == "" {
			continue
		}

		envKey := envTag
		if prefix != "" {
			envKey = prefix + "_" + envTag
		}

		val, ok := os.LookupEnv(envKey)
		if !ok {
			continue
		}

		if err := setField(field, val); err != nil {
			return cperr.Wrapf(err, cperr.CodeInternalConfiguration,
				"config: failed to set field %q from env var %q", sf.Name, envKey)
		}
	}

	return nil
}

// setField parses value into the field. Strings (including named
// string types like auth.Secret or packs.Tier), bools, signed and
// unsigned integers, time.Duration, and string slices (comma-separated,
// whitespace-trimmed) are supported.
func setField(field reflect.Value, value string) error {
	// Duration must be checked before the int64 case: its underlying
	// kind is int64 but the text form goes through time.ParseDuration.
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("cannot parse duration %q: %w", value, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("cannot parse bool %q: %w", value, err)
		}
		field.SetBool(b)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		bitSize := field.Type().Bits()
		n, err := strconv.ParseInt(value, 10, bitSize)
		if err != nil {
			return fmt.Errorf("cannot parse integer %q: %w", value, err)
		}
		field.SetInt(n)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		bitSize := field.Type().Bits()
		n, err := strconv.ParseUint(value, 10, bitSize)
		if err != nil {
			return fmt.Errorf("cannot parse unsigned integer %q: %w", value, err)
		}
		field.SetUint(n)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element type %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		// Build the slice with the field's own type so named slice
		// types (type Tags []string) assign cleanly.
		slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, p := range parts {
			slice.Index(i).SetString(p)
		}
		field.Set(slice)

	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}

	return nil
}
