// Package ollama talks to a local Ollama server for the one thing hrq needs
// from it: text embeddings, plus enough model management to make sure the
// embedding model is present and has the expected width.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultEmbedModel produces 384-dimensional vectors.
const DefaultEmbedModel = "all-minilm"

// ErrModelNotFound is returned when the server does not have the model.
var ErrModelNotFound = errors.New("model not found")

// Options tunes a Client.
type Options struct {
	// KeepAlive is sent with embed requests so the model stays loaded
	// between queries, e.g. "10m". Empty uses the server default.
	KeepAlive string
	// HTTPClient replaces the default client, for tests.
	HTTPClient *http.Client
}

// Client communicates with an Ollama instance over HTTP. Per-call deadlines
// come from the caller's context.
type Client struct {
	baseURL    string
	keepAlive  string
	httpClient *http.Client
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		keepAlive:  opts.KeepAlive,
		httpClient: hc,
	}
}

// BaseURL returns the server address the client was built with.
func (c *Client) BaseURL() string { return c.baseURL }

// errorResponse is the body Ollama sends with non-200 statuses.
type errorResponse struct {
	Error string `json:"error"`
}

// do sends body (if any) as JSON and returns the response when the status
// is 200. Any other status is turned into an error carrying the server's
// message; 404 wraps ErrModelNotFound.
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()

	var e errorResponse
	msg := ""
	if json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e) == nil {
		msg = e.Error
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w: %s", path, ErrModelNotFound, msg)
	}
	if msg != "" {
		return nil, fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, msg)
	}
	return nil, fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
}

// decode runs do and decodes the JSON response into out.
func (c *Client) decode(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
