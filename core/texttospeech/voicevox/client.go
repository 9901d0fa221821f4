// Package voicevox synthesizes speech through a locally hosted VOICEVOX
// engine. Synthesis is two requests: an audio query built from the text,
// patched with prosody overrides, then rendered to audio.
package voicevox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/mikanbako-lab/miko-core/core/audio"
	"github.com/mikanbako-lab/miko-core/core/texttospeech"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultBaseURL   = "http://localhost:50021"
	defaultSpeakerID = 3

	audioQueryEndpoint = "/audio_query"
	synthesisEndpoint  = "/synthesis"
	userDictEndpoint   = "/import_user_dict"
	versionEndpoint    = "/version"
)

type Client struct {
	baseURL    string
	httpClient *http.Client

	speakerID  int
	speedScale float64
	pitchScale float64
}

type ClientOption func(*Client)

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = baseURL }
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithSpeaker sets the default voice used when a synthesis call does not
// override it.
func WithSpeaker(id int) ClientOption {
	return func(c *Client) { c.speakerID = id }
}

func WithSpeedScale(scale float64) ClientOption {
	return func(c *Client) {
		if scale <= 0 {
			return
		}
		c.speedScale = scale
	}
}

func WithPitchScale(scale float64) ClientOption {
	return func(c *Client) { c.pitchScale = scale }
}

func NewClient(opts ...ClientOption) *Client {
	client := &Client{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		speakerID:  defaultSpeakerID,
		speedScale: 1.0,
		pitchScale: 0.0,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Healthy reports whether the engine answers its version endpoint.
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

// Synthesize renders text to linear16 PCM along with its encoding info.
func (c *Client) Synthesize(ctx context.Context, text string, opts ...texttospeech.SynthesisOption) ([]byte, audio.EncodingInfo, error) {
	options := texttospeech.SynthesisOptions{
		SpeakerID:  c.speakerID,
		SpeedScale: c.speedScale,
		PitchScale: c.pitchScale,
	}
	for _, opt := range opts {
		opt(&options)
	}

	ctx, span := tracer.Start(ctx, "synthesize speech")
	defer span.End()
	span.SetAttributes(
		attribute.Int("request.text_length", len(text)),
		attribute.Int("request.speaker_id", options.SpeakerID),
	)

	query, err := c.audioQuery(ctx, text, options)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, audio.EncodingInfo{}, err
	}

	wav, err := c.synthesis(ctx, query, options.SpeakerID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, audio.EncodingInfo{}, err
	}

	pcm, encodingInfo, err := audio.DecodeWAV(wav)
	if err != nil {
		err = fmt.Errorf("error decoding synthesized audio: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, audio.EncodingInfo{}, err
	}

	span.SetAttributes(attribute.Int("response.audio_length", len(pcm)))
	return pcm, encodingInfo, nil
}

func (c *Client) audioQuery(ctx context.Context, text string, options texttospeech.SynthesisOptions) (map[string]any, error) {
	params := url.Values{}
	params.Set("text", text)
	params.Set("speaker", strconv.Itoa(options.SpeakerID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+audioQueryEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating audio query request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending audio query request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("audio query failed with status %d", resp.StatusCode)
	}

	// The query is passed back to the engine as-is, so unknown fields are
	// kept rather than modelled.
	var query map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&query); err != nil {
		return nil, fmt.Errorf("error decoding audio query: %w", err)
	}

	query["speedScale"] = options.SpeedScale
	query["pitchScale"] = options.PitchScale
	return query, nil
}

func (c *Client) synthesis(ctx context.Context, query map[string]any, speakerID int) ([]byte, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("error marshalling audio query: %w", err)
	}

	params := url.Values{}
	params.Set("speaker", strconv.Itoa(speakerID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+synthesisEndpoint+"?"+params.Encode(), bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("error creating synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("synthesis failed with status %d", resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading synthesized audio: %w", err)
	}
	return wav, nil
}

// ImportUserDict uploads a pronunciation dictionary from a JSON file,
// replacing the engine's current user dictionary.
func (c *Client) ImportUserDict(ctx context.Context, path string) error {
	ctx, span := tracer.Start(ctx, "import user dictionary")
	defer span.End()

	dict, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("error reading user dictionary: %w", err)
		span.RecordError(err)
		return err
	}
	if !json.Valid(dict) {
		err := fmt.Errorf("user dictionary %s is not valid JSON", path)
		span.RecordError(err)
		return err
	}

	params := url.Values{}
	params.Set("override", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+userDictEndpoint+"?"+params.Encode(), bytes.NewBuffer(dict))
	if err != nil {
		return fmt.Errorf("error creating user dictionary request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("error sending user dictionary request: %w", err)
		span.RecordError(err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		err := fmt.Errorf("user dictionary import failed with status %d", resp.StatusCode)
		span.RecordError(err)
		return err
	}

	logger.InfoContext(ctx, "imported user dictionary", "path", path)
	return nil
}
