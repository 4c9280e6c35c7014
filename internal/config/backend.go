package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ConfigBackend abstracts persisted config storage. Keys are the dotted
// names from the key table, e.g. "cache.ttl"; values are their text form
// and are parsed by the key's type when loaded.
type ConfigBackend interface {
	Get(key string) (raw string, ok bool)
	Set(key, raw string) error
	Delete(key string) error
}

// xdgDir returns $<env>/hrq, or ~/<fallback>/hrq when the variable is unset.
func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, "hrq")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "hrq"
	}
	return filepath.Join(home, fallback, "hrq")
}

func defaultDataDir() string { return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")) }

// ConfigFilePath returns the JSON file read by Load and written by SetKey.
func ConfigFilePath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "config.json")
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(ConfigFilePath())
}

// fileBackend keeps a flat JSON object. Hand-written files may use JSON
// numbers or strings; both read back as text.
type fileBackend struct {
	path   string
	values map[string]json.RawMessage
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, values: make(map[string]json.RawMessage)}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		slog.Warn("config file unreadable, using defaults", "path", path, "error", err)
	default:
		if err := json.Unmarshal(data, &b.values); err != nil {
			slog.Warn("config file is not a JSON object, using defaults", "path", path, "error", err)
			b.values = make(map[string]json.RawMessage)
		}
	}
	return b
}

func (b *fileBackend) Get(key string) (string, bool) {
	raw, ok := b.values[key]
	if !ok {
		return "", false
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s, true
	}
	return string(bytes.TrimSpace(raw)), true
}

// Set stores numeric text as a JSON number so the file stays natural to
// edit by hand.
func (b *fileBackend) Set(key, raw string) error {
	var num json.Number
	if err := json.Unmarshal([]byte(raw), &num); err == nil {
		b.values[key] = json.RawMessage(num)
	} else {
		enc, _ := json.Marshal(raw)
		b.values[key] = enc
	}
	return b.flush()
}

func (b *fileBackend) Delete(key string) error {
	if _, ok := b.values[key]; !ok {
		return nil
	}
	delete(b.values, key)
	return b.flush()
}

func (b *fileBackend) flush() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(b.values, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(b.path, append(data, '\n'), 0o600)
}
