package ollama

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotRunning is returned by EnsureReady when the server is unreachable.
var ErrNotRunning = errors.New("ollama is not running")

// ErrWrongDimensions is returned by EnsureReady when the model's vectors do
// not match the width stored chunks use.
var ErrWrongDimensions = errors.New("embedding model has the wrong dimensions")

// ModelManager is the part of Client EnsureReady uses.
type ModelManager interface {
	IsRunning(ctx context.Context) bool
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
	EmbeddingLength(ctx context.Context, model string) (int, error)
}

// EnsureReady checks that the server is up and model is available, pulling
// it with progress written to w when missing. When dims is positive the
// model's embedding width must equal it.
func EnsureReady(ctx context.Context, m ModelManager, model string, dims int, w io.Writer) error {
	if !m.IsRunning(ctx) {
		return fmt.Errorf("%w; start it with: ollama serve", ErrNotRunning)
	}

	if !m.HasModel(ctx, model) {
		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := m.PullModel(ctx, model, func(p PullProgress) {
			if pct := p.Percent(); pct >= 0 {
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
	}

	if dims > 0 {
		n, err := m.EmbeddingLength(ctx, model)
		if err != nil {
			return err
		}
		if n != dims {
			return fmt.Errorf("%w: %s produces %d, want %d", ErrWrongDimensions, model, n, dims)
		}
	}

	fmt.Fprintf(w, "model %s: ready\n", model)
	return nil
}
