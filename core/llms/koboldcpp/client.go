// Package koboldcpp streams text generation from a locally hosted KoboldCpp
// server over its SSE endpoint.
package koboldcpp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mikanbako-lab/miko-core/core/llms"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultBaseURL  = "http://localhost:5001"
	streamEndpoint  = "/api/extra/generate/stream"
	abortEndpoint   = "/api/extra/abort"
	versionEndpoint = "/api/extra/version"
)

type Client struct {
	baseURL    string
	httpClient *http.Client

	// genKey identifies this client's generations so an abort cannot kill
	// someone else's request on a shared server.
	genKey string
}

type ClientOption func(*Client)

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = baseURL }
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

func NewClient(opts ...ClientOption) *Client {
	client := &Client{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		genKey: "miko-" + uuid.NewString(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Healthy reports whether the server answers its version endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+versionEndpoint, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// PromptWithStream starts a streaming generation for the given prompt. The
// returned stream is lazy: no request is made until fragments are consumed.
func (c *Client) PromptWithStream(_ context.Context, prompt string, opts ...llms.GenerationOption) llms.Stream {
	options := llms.GenerationOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	return &Stream{
		client:  c,
		prompt:  prompt,
		options: options,
	}
}

// Abort asks the server to stop the in-flight generation for this client's
// generation key. Fragments already produced are unaffected.
func (c *Client) Abort(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{"genkey": c.genKey})
	if err != nil {
		return fmt.Errorf("error marshalling abort request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+abortEndpoint, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("error creating abort request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error sending abort request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("abort request failed with status %d", resp.StatusCode)
	}
	return nil
}
