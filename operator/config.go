package operator

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config holds the construction parameters of a backend. Keys are
// case-insensitive and are normalized to lower case by Schema.Validate.
type Config map[string]string

// Get returns the value for key and whether it is set.
func (c Config) Get(key string) (string, bool) {
	v, ok := c[strings.ToLower(key)]
	return v, ok
}

// String returns the value for key, or the empty string.
func (c Config) String(key string) string {
	return c[strings.ToLower(key)]
}

// Bool returns the value for key parsed as a boolean. Unset or malformed
// values yield false; validated configs never hold malformed values.
func (c Config) Bool(key string) bool {
	b, _ := strconv.ParseBool(c.String(key))
	return b
}

// Int returns the value for key parsed as an integer, or zero.
func (c Config) Int(key string) int64 {
	n, _ := strconv.ParseInt(c.String(key), 10, 64)
	return n
}

// Duration returns the value for key parsed as a duration, or zero.
func (c Config) Duration(key string) time.Duration {
	d, _ := time.ParseDuration(c.String(key))
	return d
}

// Clone returns a copy of c.
func (c Config) Clone() Config {
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// ParameterKind is the type a parameter value must parse as.
type ParameterKind int

const (
	// KindString accepts any value.
	KindString ParameterKind = iota
	// KindBool accepts values understood by strconv.ParseBool.
	KindBool
	// KindInt accepts base 10 integers.
	KindInt
	// KindDuration accepts values understood by time.ParseDuration.
	KindDuration
)

func (k ParameterKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindDuration:
		return "duration"
	default:
		return "string"
	}
}

// Parameter declares one accepted configuration key.
type Parameter struct {
	Key         string
	Kind        ParameterKind
	Required    bool
	Default     string
	Secret      bool
	Description string
}

// Schema is the set of parameters a backend accepts.
type Schema []Parameter

// Lookup returns the parameter declared for key.
func (s Schema) Lookup(key string) (Parameter, bool) {
	key = strings.ToLower(key)
	for _, p := range s {
		if strings.ToLower(p.Key) == key {
			return p, true
		}
	}
	return Parameter{}, false
}

// Validate checks cfg against the schema and returns a normalized copy with
// lower-cased keys and defaults applied. The first offending key is reported
// as an InvalidConfigError naming scheme.
func (s Schema) Validate(scheme string, cfg Config) (Config, error) {
	out := make(Config, len(cfg)+len(s))

	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		norm := strings.ToLower(strings.TrimSpace(k))
		p, ok := s.Lookup(norm)
		if !ok {
			return nil, InvalidConfigError{Scheme: scheme, Key: k, Reason: "unknown parameter"}
		}
		if _, dup := out[norm]; dup {
			return nil, InvalidConfigError{Scheme: scheme, Key: k, Reason: "parameter given more than once"}
		}
		v := cfg[k]
		if err := p.check(v); err != nil {
			return nil, InvalidConfigError{Scheme: scheme, Key: norm, Reason: err.Error()}
		}
		out[norm] = v
	}

	for _, p := range s {
		key := strings.ToLower(p.Key)
		if v, ok := out[key]; ok && v != "" {
			continue
		}
		if p.Required {
			return nil, InvalidConfigError{Scheme: scheme, Key: key, Reason: "required parameter missing"}
		}
		if p.Default != "" {
			out[key] = p.Default
		}
	}
	return out, nil
}

// Redacted returns a copy of cfg with secret parameters masked, suitable for
// logging.
func (s Schema) Redacted(cfg Config) map[string]string {
	out := make(map[string]string, len(cfg))
	for k, v := range cfg {
		if p, ok := s.Lookup(k); ok && p.Secret && v != "" {
			v = "<redacted>"
		}
		out[k] = v
	}
	return out
}

func (p Parameter) check(v string) error {
	if v == "" {
		return nil
	}
	var err error
	switch p.Kind {
	case KindBool:
		_, err = strconv.ParseBool(v)
	case KindInt:
		_, err = strconv.ParseInt(v, 10, 64)
	case KindDuration:
		_, err = time.ParseDuration(v)
	}
	if err != nil {
		return fmt.Errorf("expected %s, got %q", p.Kind, v)
	}
	return nil
}
