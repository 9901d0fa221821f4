package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/mikanbako-lab/miko-core/core/audio"
)

const (
	captureFormat   = malgo.FormatS16
	captureChannels = 1
	// capturePeriodFrames keeps callback chunks around 30ms so voice
	// activity detection reacts quickly.
	capturePeriodFrames = 480
)

type captureClient struct {
	device        *malgo.Device
	bytesPerFrame int

	mu      sync.Mutex
	onAudio func(audio []byte)
}

func (c *captureClient) Init(audioContext *malgo.AllocatedContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bytesPerFrame = malgo.SampleSizeInBytes(captureFormat) * captureChannels

	config := malgo.DefaultDeviceConfig(malgo.Capture)
	config.SampleRate = uint32(audio.DefaultSampleRate)
	config.Capture.Format = captureFormat
	config.Capture.Channels = captureChannels
	config.Alsa.NoMMap = 1
	config.PerformanceProfile = malgo.LowLatency
	config.PeriodSizeInFrames = capturePeriodFrames
	config.Periods = 3

	device, err := malgo.InitDevice(audioContext.Context, config, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			c.deliverFrames(pInput, frameCount)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}

	c.device = device
	return nil
}

// deliverFrames copies the device buffer before handing it to the listener.
// malgo reuses the buffer between callbacks while listeners accumulate
// chunks into utterances.
func (c *captureClient) deliverFrames(pInput []byte, frameCount uint32) {
	c.mu.Lock()
	onAudio := c.onAudio
	c.mu.Unlock()

	n := int(frameCount) * c.bytesPerFrame
	if onAudio == nil || n == 0 || len(pInput) < n {
		return
	}

	chunk := make([]byte, n)
	copy(chunk, pInput[:n])
	onAudio(chunk)
}

func (c *captureClient) Start(onAudio func(audio []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device == nil {
		return fmt.Errorf("capture device not initialized")
	}
	c.onAudio = onAudio
	if c.device.IsStarted() {
		return nil
	}

	if err := c.device.Start(); err != nil {
		c.onAudio = nil
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	return nil
}

func (c *captureClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onAudio = nil
	if c.device == nil || !c.device.IsStarted() {
		return nil
	}
	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}
	return nil
}

func (c *captureClient) Uninit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	c.onAudio = nil
	return nil
}
