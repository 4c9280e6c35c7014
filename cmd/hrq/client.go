package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/kalambet/hrq/internal/config"
)

// apiClient talks to a running `hrq serve` as the configured local caller.
type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// newAPIClient is replaced in tests.
var newAPIClient = func() (*apiClient, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	token, err := tokenFor(cfg.Server.Tokens, cfg.Server.LocalCaller)
	if err != nil {
		return nil, err
	}
	return &apiClient{
		baseURL: serverURL(cfg.Server),
		token:   token,
		// Leave room for the server's own query deadline to fire first.
		httpClient: &http.Client{Timeout: cfg.Server.RequestTimeout + 5*time.Second},
	}, nil
}

func serverURL(s config.ServerConfig) string {
	host := s.Bind
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, s.Port)
}

// tokenFor picks the bearer token mapped to caller, the smallest one when
// a caller has several.
func tokenFor(tokens map[string]string, caller string) (string, error) {
	var found []string
	for tok, c := range tokens {
		if c == caller {
			found = append(found, tok)
		}
	}
	if len(found) == 0 {
		return "", fmt.Errorf("no API token for caller %q; add token:%s to %sSERVER_TOKENS", caller, caller, config.EnvPrefix)
	}
	return slices.Min(found), nil
}

// apiError is a non-2xx answer, decoded from the server's
// {"error":{"message","type"}} envelope when present.
type apiError struct {
	Status  int
	Type    string
	Message string
}

func (e *apiError) Error() string {
	msg := fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	if e.Type == "authentication_error" {
		msg += " (check " + config.EnvPrefix + "SERVER_TOKENS)"
	}
	return msg
}

func readAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return &apiError{Status: resp.StatusCode, Message: "unreadable body: " + err.Error()}
	}
	var env struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
		return &apiError{Status: resp.StatusCode, Type: env.Error.Type, Message: env.Error.Message}
	}
	return &apiError{Status: resp.StatusCode, Message: string(bytes.TrimSpace(body))}
}

// call sends in (when non-nil) as JSON and decodes a successful response
// into out (when non-nil). Non-2xx responses come back as *apiError.
func (c *apiClient) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("server not reachable, is hrq serve running? (%w)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
