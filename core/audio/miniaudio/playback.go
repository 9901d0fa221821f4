package miniaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/mikanbako-lab/miko-core/core/audio"
)

type playbackClient struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	config       malgo.DeviceConfig

	pending []byte
	drains  []drainPoint

	mu    sync.Mutex
	bufMu sync.Mutex
}

// drainPoint marks a position in the pending buffer; its channel is closed
// once the device has consumed everything before it.
type drainPoint struct {
	position int
	done     chan struct{}
}

func (c *playbackClient) Init(audioContext *malgo.AllocatedContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sampleRate := uint32(audio.DefaultSampleRate)
	channels := 1
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	c.config = malgo.DefaultDeviceConfig(malgo.Playback)
	c.config.SampleRate = sampleRate
	c.config.Playback.Format = format
	c.config.Playback.Channels = uint32(channels)
	c.config.Alsa.NoMMap = 1
	c.config.PeriodSizeInFrames = sampleRate / 10 // ~100ms of audio
	c.config.Periods = 4

	c.audioContext = audioContext

	var err error
	if c.device, err = malgo.InitDevice(
		c.audioContext.Context,
		c.config,
		malgo.DeviceCallbacks{Data: c.processAudio(bytesPerFrame)},
	); err != nil {
		return err
	}

	return nil
}

func (c *playbackClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	}

	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}

	return nil
}

func (c *playbackClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	}

	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop playback device: %w", err)
	}

	c.Clear()
	return nil
}

// Play enqueues audio and blocks until the device has consumed it, the
// buffer is cleared, or the context is cancelled. Cancellation drops any
// audio that has not reached the device yet.
func (c *playbackClient) Play(ctx context.Context, pcm []byte) error {
	c.mu.Lock()
	if c.device == nil {
		c.mu.Unlock()
		return fmt.Errorf("device not initialized")
	} else if !c.device.IsStarted() {
		c.mu.Unlock()
		return fmt.Errorf("device not started")
	}
	c.mu.Unlock()

	c.bufMu.Lock()
	c.pending = append(c.pending, pcm...)
	drained := make(chan struct{})
	c.drains = append(c.drains, drainPoint{position: len(c.pending), done: drained})
	c.bufMu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		c.Clear()
		return ctx.Err()
	}
}

// Clear drops all queued audio and releases any blocked [Play] calls.
func (c *playbackClient) Clear() {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	c.pending = nil
	for _, drain := range c.drains {
		close(drain.done)
	}
	c.drains = nil
}

func (c *playbackClient) Uninit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device == nil {
		return fmt.Errorf("device not initialized")
	}

	c.device.Uninit()
	c.device = nil

	c.Clear()
	return nil
}

func (c *playbackClient) processAudio(bytesPerFrame int) malgo.DataProc {
	return func(pOutput, _ []byte, frameCount uint32) {
		need := int(frameCount) * bytesPerFrame
		if need > len(pOutput) {
			need = len(pOutput)
		}

		c.bufMu.Lock()
		n := copy(pOutput[:need], c.pending)
		c.pending = c.pending[n:]

		var passed []drainPoint
		remaining := c.drains[:0]
		for _, drain := range c.drains {
			drain.position -= n
			if drain.position <= 0 {
				passed = append(passed, drain)
			} else {
				remaining = append(remaining, drain)
			}
		}
		c.drains = remaining
		c.bufMu.Unlock()

		for _, drain := range passed {
			close(drain.done)
		}
	}
}
