// Package config holds the string keyed test parameters and the typed
// scenario settings derived from them.
//
// Parameters are layered, later sources winning:
//
//  1. a YAML params file (flat string map),
//  2. SNAPHARNESS_<KEY> environment variables, optionally seeded from a
//     .env file,
//  3. explicit key=value overrides from the command line.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment variables that set parameters.
const EnvPrefix = "SNAPHARNESS_"

// Params is the string keyed configuration handed to a test.
type Params map[string]string

// LoadFile reads a flat YAML mapping of parameters. Non-string scalars are
// converted with their YAML text.
func LoadFile(path string) (Params, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read params file: %w", err)
	}
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse params file %s: %w", path, err)
	}
	p := make(Params, len(raw))
	for k, n := range raw {
		if n.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("param %q in %s must be a scalar", k, path)
		}
		p[k] = n.Value
	}
	return p, nil
}

// LoadEnvFile loads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// FromEnviron collects SNAPHARNESS_<KEY> variables from environ, lower-casing
// the key: SNAPHARNESS_MAIN_VM=vm1 sets main_vm.
func FromEnviron(environ []string) Params {
	p := make(Params)
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, EnvPrefix) {
			continue
		}
		p[strings.ToLower(strings.TrimPrefix(k, EnvPrefix))] = v
	}
	return p
}

// ParseOverrides parses key=value pairs.
func ParseOverrides(pairs []string) (Params, error) {
	p := make(Params, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid override %q, want key=value", kv)
		}
		p[strings.TrimSpace(k)] = v
	}
	return p, nil
}

// Merge returns a new Params with every layer applied in order.
func Merge(layers ...Params) Params {
	out := make(Params)
	for _, l := range layers {
		for k, v := range l {
			out[k] = v
		}
	}
	return out
}

// Get returns the value for key, or def when key is unset.
func (p Params) Get(key, def string) string {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Int returns key as an integer, or def when key is unset.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("param %s=%q is not an integer", key, v)
	}
	return n, nil
}

// Bool reports whether key is one of yes/true/1 (case-insensitive).
func (p Params) Bool(key string, def bool) bool {
	v, ok := p[key]
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "true", "1":
		return true
	}
	return false
}

// Duration returns key as a duration. A bare number is read as seconds, so
// both "1" and "1500ms" work.
func (p Params) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := p[key]
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	v = strings.TrimSpace(v)
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("param %s=%q is not a duration", key, v)
	}
	return d, nil
}
