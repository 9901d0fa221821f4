// Package miniaudio provides microphone capture and speaker playback
// through the system's default audio devices.
package miniaudio

import (
	"context"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/mikanbako-lab/miko-core/core/audio"
)

// Client owns one malgo context shared by the playback and capture devices.
// The context must outlive both devices, so it is uninitialized last.
type Client struct {
	audioContext *malgo.AllocatedContext
	playbackClient
	captureClient
}

func NewClient() (*Client, error) {
	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	client := Client{audioContext: audioCtx}

	initSteps := []struct {
		name string
		run  func() error
	}{
		{"initialize playback device", func() error { return client.playbackClient.Init(audioCtx) }},
		{"start playback device", client.playbackClient.Start},
		{"initialize capture device", func() error { return client.captureClient.Init(audioCtx) }},
	}
	for _, step := range initSteps {
		if err := step.run(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to %s: %w", step.name, err)
		}
	}

	return &client, nil
}

// Stream starts feeding microphone frames to onAudio. It returns once the
// device is running, frames arrive on the device's own callback thread.
func (c *Client) Stream(_ context.Context, onAudio func(audio []byte)) error {
	return c.captureClient.Start(onAudio)
}

func (c *Client) StopCapture() error {
	return c.captureClient.Stop()
}

func (c *Client) Close() {
	_ = c.captureClient.Uninit()
	_ = c.playbackClient.Uninit()
	_ = c.audioContext.Uninit()
	c.audioContext.Free()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}
