package koboldcpp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mikanbako-lab/miko-core/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type Stream struct {
	client  *Client
	prompt  string
	options llms.GenerationOptions
}

type requestBody struct {
	Prompt       string   `json:"prompt"`
	MaxLength    int      `json:"max_length,omitempty"`
	Temperature  float64  `json:"temperature,omitempty"`
	StopSequence []string `json:"stop_sequence,omitempty"`
	GenKey       string   `json:"genkey"`
}

type tokenEvent struct {
	Token        string  `json:"token"`
	FinishReason *string `json:"finish_reason"`
}

func (s *Stream) Fragments(ctx context.Context) func(func(string, error) bool) {
	requestTime := time.Now()
	firstToken := true

	return func(yield func(string, error) bool) {
		ctx, span := tracer.Start(ctx, "prompt llm stream")
		defer span.End()
		span.SetAttributes(attribute.Int("request.prompt_length", len(s.prompt)))

		reqBody := requestBody{
			Prompt:       s.prompt,
			MaxLength:    s.options.MaxLength,
			Temperature:  s.options.Temperature,
			StopSequence: s.options.StopSequences,
			GenKey:       s.client.genKey,
		}

		requestBodyBytes, err := json.Marshal(reqBody)
		if err != nil {
			err = fmt.Errorf("error marshalling JSON: %w", err)
			span.RecordError(err)
			yield("", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.client.baseURL+streamEndpoint, bytes.NewBuffer(requestBodyBytes))
		if err != nil {
			err = fmt.Errorf("error creating generation request: %w", err)
			span.RecordError(err)
			yield("", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := s.client.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				// Cancellation is the expected exit for interrupted turns.
				return
			}
			err = fmt.Errorf("error sending generation request: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield("", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("generation request failed with status %d", resp.StatusCode)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield("", err)
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" || payload == "[DONE]" {
				continue
			}

			var event tokenEvent
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				err = fmt.Errorf("error decoding stream event: %w", err)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				yield("", err)
				return
			}

			if firstToken {
				firstToken = false
				span.SetAttributes(attribute.Float64("response.request_to_first_token_time", time.Since(requestTime).Seconds()))
				span.AddEvent("received first token")
			}

			if event.Token != "" {
				if !yield(event.Token, nil) {
					return
				}
			}

			if event.FinishReason != nil && *event.FinishReason != "" && *event.FinishReason != "null" {
				span.SetAttributes(attribute.String("response.finish_reason", *event.FinishReason))
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			err = fmt.Errorf("error reading stream: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield("", err)
		}
	}
}
