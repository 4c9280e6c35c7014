package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
)

// Source tells which layer a setting's effective value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceFile    Source = "file"
	SourceEnv     Source = "env"
)

// Setting is one row of `hrq config show`.
type Setting struct {
	Key    string
	EnvVar string
	Value  string
	Source Source
}

// Describe lists every key with its effective value in cfg and the layer
// that set it. Secret values are summarized, never printed.
func Describe(cfg Config) []Setting {
	return describe(cfg, newPlatformBackend())
}

func describe(cfg Config, b ConfigBackend) []Setting {
	out := make([]Setting, 0, len(specs))
	for _, s := range specs {
		st := Setting{Key: s.key, EnvVar: s.env, Source: SourceDefault}
		switch {
		case envSet(s.env):
			st.Source = SourceEnv
		case !s.secret && inBackend(b, s.key):
			st.Source = SourceFile
		}
		st.Value = displayValue(s, cfg)
		out = append(out, st)
	}
	return out
}

func displayValue(s keySpec, cfg Config) string {
	v := s.extract(cfg)
	if !s.secret {
		return fmt.Sprintf("%v", v)
	}
	switch v := v.(type) {
	case int:
		return fmt.Sprintf("%d configured", v)
	case string:
		if v == "" {
			return "(unset)"
		}
	}
	return "(set)"
}

func envSet(name string) bool {
	v, ok := os.LookupEnv(name)
	return ok && v != ""
}

func inBackend(b ConfigBackend, key string) bool {
	_, ok := b.Get(key)
	return ok
}

// SetKey persists key=value to the config file after checking that the
// resulting configuration is still valid.
func SetKey(key, value string) error {
	return setKey(newPlatformBackend(), key, value)
}

func setKey(b ConfigBackend, key, value string) error {
	s, err := lookupSpec(key)
	if err != nil {
		return err
	}
	parsed, err := parseValue(s.typ, value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	// Validate against what the next Load would see, with this key's
	// new value winning.
	cfg := defaults()
	applyBackend(&cfg, b)
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	s.apply(&cfg, parsed)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("rejecting %s=%s: %w", key, value, err)
	}

	return b.Set(key, value)
}

// UnsetKey removes key from the config file so the default applies again.
func UnsetKey(key string) error {
	return unsetKey(newPlatformBackend(), key)
}

func unsetKey(b ConfigBackend, key string) error {
	if _, err := lookupSpec(key); err != nil {
		return err
	}
	return b.Delete(key)
}

func lookupSpec(key string) (keySpec, error) {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return keySpec{}, fmt.Errorf("%s is a secret; set it with the %s environment variable", key, s.env)
		}
		return s, nil
	}
	return keySpec{}, fmt.Errorf("unknown config key %q", key)
}
