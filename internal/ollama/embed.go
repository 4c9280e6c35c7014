package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// embedRequest is the body of POST /api/embed. Input is a string or a list
// of strings.
type embedRequest struct {
	Model     string `json:"model"`
	Input     any    `json:"input"`
	Truncate  bool   `json:"truncate"`
	KeepAlive string `json:"keep_alive,omitempty"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the embedding of text. Inputs longer than the model's
// context are truncated by the server.
func (c *Client) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	vecs, err := c.embed(ctx, model, text, 1)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany embeds texts in a single request, index-aligned with texts.
func (c *Client) EmbedMany(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return c.embed(ctx, model, texts, len(texts))
}

func (c *Client) embed(ctx context.Context, model string, input any, want int) ([][]float32, error) {
	var out embedResponse
	err := c.decode(ctx, http.MethodPost, "/api/embed", embedRequest{
		Model:     model,
		Input:     input,
		Truncate:  true,
		KeepAlive: c.keepAlive,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(out.Embeddings) != want {
		return nil, fmt.Errorf("embed: got %d embeddings for %d inputs", len(out.Embeddings), want)
	}
	for i, v := range out.Embeddings {
		if len(v) == 0 {
			return nil, fmt.Errorf("embed: input %d: %w", i, errEmptyVector)
		}
	}
	return out.Embeddings, nil
}

var errEmptyVector = errors.New("empty vector")
