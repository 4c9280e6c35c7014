package ollama

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

type mockManager struct {
	running bool
	models  map[string]int // name -> embedding length
	pulled  []string
	pullErr error
}

func (m *mockManager) IsRunning(context.Context) bool { return m.running }

func (m *mockManager) HasModel(_ context.Context, name string) bool {
	_, ok := m.models[name]
	return ok
}

func (m *mockManager) PullModel(_ context.Context, name string, cb func(PullProgress)) error {
	m.pulled = append(m.pulled, name)
	if m.pullErr != nil {
		return m.pullErr
	}
	cb(PullProgress{Status: "downloading", Total: 4, Completed: 2})
	cb(PullProgress{Status: "success"})
	m.models[name] = 384
	return nil
}

func (m *mockManager) EmbeddingLength(_ context.Context, name string) (int, error) {
	n, ok := m.models[name]
	if !ok {
		return 0, ErrModelNotFound
	}
	return n, nil
}

func TestEnsureReady_ModelPresent(t *testing.T) {
	m := &mockManager{running: true, models: map[string]int{"all-minilm": 384}}
	if err := EnsureReady(context.Background(), m, "all-minilm", 384, io.Discard); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 0 {
		t.Errorf("expected no pulls, got %v", m.pulled)
	}
}

func TestEnsureReady_PullsMissing(t *testing.T) {
	m := &mockManager{running: true, models: map[string]int{}}
	var out bytes.Buffer
	if err := EnsureReady(context.Background(), m, "all-minilm", 384, &out); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 1 || m.pulled[0] != "all-minilm" {
		t.Errorf("pulled = %v", m.pulled)
	}
	for _, want := range []string{"pulling", "downloading 50%", "success", "ready"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestEnsureReady_NotRunning(t *testing.T) {
	m := &mockManager{}
	err := EnsureReady(context.Background(), m, "all-minilm", 384, io.Discard)
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("err = %v, want ErrNotRunning", err)
	}
}

func TestEnsureReady_PullFails(t *testing.T) {
	m := &mockManager{running: true, models: map[string]int{}, pullErr: errors.New("disk full")}
	err := EnsureReady(context.Background(), m, "all-minilm", 384, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("err = %v", err)
	}
}

func TestEnsureReady_WrongDimensions(t *testing.T) {
	m := &mockManager{running: true, models: map[string]int{"nomic-embed-text": 768}}
	err := EnsureReady(context.Background(), m, "nomic-embed-text", 384, io.Discard)
	if !errors.Is(err, ErrWrongDimensions) {
		t.Errorf("err = %v, want ErrWrongDimensions", err)
	}

	// Zero dims skips the width check.
	if err := EnsureReady(context.Background(), m, "nomic-embed-text", 0, io.Discard); err != nil {
		t.Errorf("EnsureReady(dims=0): %v", err)
	}
}
