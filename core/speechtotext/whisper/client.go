// Package whisper transcribes captured utterances through a locally hosted
// whisper.cpp server.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/mikanbako-lab/miko-core/core/audio"
	"github.com/mikanbako-lab/miko-core/core/speechtotext"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultBaseURL = "http://localhost:8080"

	inferenceEndpoint = "/inference"
	healthEndpoint    = "/health"
)

type Client struct {
	baseURL    string
	httpClient *http.Client

	language string
}

type ClientOption func(*Client)

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = baseURL }
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithLanguage sets the default language hint used when a transcription call
// does not override it.
func WithLanguage(language string) ClientOption {
	return func(c *Client) { c.language = language }
}

func NewClient(opts ...ClientOption) *Client {
	client := &Client{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Healthy reports whether the server answers its health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthEndpoint, nil)
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

// Transcribe sends raw PCM audio for transcription and returns the
// recognized text, trimmed of surrounding whitespace.
func (c *Client) Transcribe(ctx context.Context, pcm []byte, opts ...speechtotext.TranscriptionOption) (string, error) {
	options := speechtotext.TranscriptionOptions{
		Language:     c.language,
		EncodingInfo: audio.GetDefaultEncodingInfo(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	ctx, span := tracer.Start(ctx, "transcribe utterance")
	defer span.End()
	span.SetAttributes(
		attribute.Int("request.audio_length", len(pcm)),
		attribute.Float64("request.audio_duration", options.EncodingInfo.Duration(len(pcm)).Seconds()),
	)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	fileWriter, err := writer.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", fmt.Errorf("error building transcription request: %w", err)
	}
	if _, err := fileWriter.Write(audio.EncodeWAV(pcm, options.EncodingInfo)); err != nil {
		return "", fmt.Errorf("error building transcription request: %w", err)
	}
	if err := writer.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("error building transcription request: %w", err)
	}
	if options.Language != "" {
		if err := writer.WriteField("language", options.Language); err != nil {
			return "", fmt.Errorf("error building transcription request: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("error building transcription request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+inferenceEndpoint, body)
	if err != nil {
		return "", fmt.Errorf("error creating transcription request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("error sending transcription request: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("transcription request failed with status %d", resp.StatusCode)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		err = fmt.Errorf("error decoding transcription response: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	transcript := strings.TrimSpace(result.Text)
	span.SetAttributes(attribute.Int("response.transcript_length", len(transcript)))
	return transcript, nil
}
