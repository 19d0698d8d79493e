package mce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"mce-assistant-backend/internal/intent"
)

// ErrNotConfigured means no API key is set; BuildEmail short-circuits without
// touching the network.
var ErrNotConfigured = errors.New("mce api key not configured")

// HTTPError is a non-2xx response from the MCE proxy, body text captured as
// detail.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("mce server error: %d: %s", e.Status, e.Body)
}

// buildEmailPayload is the one fixed payload shape this client speaks: the
// proxy's tool/build_email action. nlpCommand carries the free-text content
// description the proxy renders into HTML.
type buildEmailPayload struct {
	Name       string `json:"name"`
	Subject    string `json:"subject"`
	NLPCommand string `json:"nlpCommand"`
	Template   string `json:"template"`
}

// Client talks to the Salesforce Marketing Cloud Engagement proxy API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Configured reports whether a credential is present.
func (c *Client) Configured() bool { return c.apiKey != "" }

// BuildEmail asks the proxy to create an email asset from the extracted
// intent. The call is not idempotent: invoking it twice with the same intent
// creates two distinct assets downstream. Callers never retry it.
func (c *Client) BuildEmail(ctx context.Context, in intent.EmailIntent) (map[string]any, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	payload := buildEmailPayload{
		Name:       in.Name,
		Subject:    in.Subject,
		NLPCommand: in.BodyDescription,
		Template:   "custom",
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal build_email payload: %w", err)
	}

	url := c.baseURL + "/api/tool/build_email"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build mce request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mce request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read mce response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("decode mce response: %w", err)
	}
	log.Printf("[mce] build_email succeeded for %q", in.Name)
	return unwrapResult(data), nil
}

// unwrapResult unpacks the proxy's `{result: "<json>"}` envelope when present.
// Anything that doesn't parse as a JSON object is returned as-is.
func unwrapResult(data map[string]any) map[string]any {
	raw, ok := data["result"].(string)
	if !ok {
		return data
	}
	var inner map[string]any
	if err := json.Unmarshal([]byte(raw), &inner); err != nil {
		return data
	}
	return inner
}
