package orchestration

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/mikanbako-lab/miko-core/core/audio"
	"github.com/mikanbako-lab/miko-core/core/events"
)

// AudioInput is the microphone capability: a continuous stream of raw
// little-endian linear16 frames.
type AudioInput interface {
	Stream(ctx context.Context, onAudio func(audio []byte)) error
	EncodingInfo() audio.EncodingInfo
}

type captureState string

const (
	captureIdle       captureState = "idle"
	captureListening  captureState = "listening"
	captureFinalizing captureState = "finalizing"
)

// utteranceBacklog bounds completed utterances waiting on the dispatch
// goroutine. The device callback drops rather than blocks when the
// listener lags behind.
const utteranceBacklog = 4

type captureOptions struct {
	// vadThreshold is the RMS level above which a frame counts as voiced.
	vadThreshold float64
	// vadSmoothing is the number of frames the voiced decision is smoothed
	// over, so a single hot or quiet frame does not flip the state.
	vadSmoothing int
	// silenceDuration is the trailing silence that finalizes an utterance.
	silenceDuration time.Duration
	// minVoicedDuration discards shorter utterances as noise.
	minVoicedDuration time.Duration
}

func defaultCaptureOptions() captureOptions {
	return captureOptions{
		vadThreshold:      300.0,
		vadSmoothing:      4,
		silenceDuration:   800 * time.Millisecond,
		minVoicedDuration: 300 * time.Millisecond,
	}
}

// capturePipeline samples the microphone continuously, detects utterance
// boundaries with per-frame RMS voice activity detection, and emits
// completed utterances upward. Voice activity is a local per-frame decision;
// the only state is the current capture session, destroyed per utterance.
type capturePipeline struct {
	input   AudioInput
	options captureOptions

	onUtterance func(events.UtteranceCaptured)
	onFailure   func(error)

	utterances chan events.UtteranceCaptured

	mu      sync.Mutex
	state   captureState
	buffer  []byte
	voiced  time.Duration
	silence time.Duration

	vadWindow []bool
}

func newCapturePipeline(input AudioInput, options captureOptions, onUtterance func(events.UtteranceCaptured), onFailure func(error)) *capturePipeline {
	if onUtterance == nil {
		onUtterance = func(events.UtteranceCaptured) {}
	}
	if onFailure == nil {
		onFailure = func(error) {}
	}
	return &capturePipeline{
		input:       input,
		options:     options,
		state:       captureIdle,
		onUtterance: onUtterance,
		onFailure:   onFailure,
		utterances:  make(chan events.UtteranceCaptured, utteranceBacklog),
	}
}

func (p *capturePipeline) isConfigured() bool {
	return p != nil && p.input != nil
}

// Start begins listening. Device failure disables the voice channel and is
// reported through the failure callback, it is never retried here.
func (p *capturePipeline) Start(ctx context.Context) {
	if !p.isConfigured() {
		return
	}

	go p.dispatchUtterances(ctx)
	go func() {
		if err := p.input.Stream(ctx, p.processFrame); err != nil {
			captureErr := &CaptureDeviceError{err: fmt.Errorf("audio input stream failed: %w", err)}
			logger.ErrorContext(ctx, "voice input disabled", "error", captureErr)
			p.onFailure(captureErr)
		}
	}()
}

// dispatchUtterances hands finalized utterances to the listener one at a
// time, off the device callback thread. Transcription can take seconds,
// and the capture callback must never wait on it.
func (p *capturePipeline) dispatchUtterances(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case utterance := <-p.utterances:
			p.onUtterance(utterance)
		}
	}
}

func (p *capturePipeline) processFrame(frame []byte) {
	if len(frame) == 0 {
		return
	}

	frameDuration := p.input.EncodingInfo().Duration(len(frame))
	isVoiced := p.smoothedVoiced(frameRMS(frame))

	p.mu.Lock()
	switch {
	case isVoiced:
		p.state = captureListening
		p.buffer = append(p.buffer, frame...)
		p.voiced += frameDuration
		p.silence = 0
		p.mu.Unlock()

	case p.state == captureListening:
		// Keep the silent tail, trailing context helps transcription.
		p.buffer = append(p.buffer, frame...)
		p.silence += frameDuration
		if p.silence < p.options.silenceDuration {
			p.mu.Unlock()
			return
		}

		p.state = captureFinalizing
		buffer := p.buffer
		voiced := p.voiced
		p.resetSessionLocked()
		p.mu.Unlock()

		if voiced < p.options.minVoicedDuration {
			return
		}
		select {
		case p.utterances <- events.NewUtteranceCaptured(buffer, voiced):
		default:
			logger.Warn("dropping utterance, dispatch backlog is full", "duration", voiced)
		}

	default:
		p.mu.Unlock()
	}
}

func (p *capturePipeline) resetSessionLocked() {
	p.state = captureIdle
	p.buffer = nil
	p.voiced = 0
	p.silence = 0
}

// smoothedVoiced folds the raw frame decision into a short majority-vote
// window.
func (p *capturePipeline) smoothedVoiced(rms float64) bool {
	voiced := rms >= p.options.vadThreshold

	p.mu.Lock()
	defer p.mu.Unlock()

	p.vadWindow = append(p.vadWindow, voiced)
	if len(p.vadWindow) > p.options.vadSmoothing {
		p.vadWindow = p.vadWindow[len(p.vadWindow)-p.options.vadSmoothing:]
	}

	voicedCount := 0
	for _, v := range p.vadWindow {
		if v {
			voicedCount++
		}
	}
	return voicedCount*2 >= len(p.vadWindow)
}

func frameRMS(frame []byte) float64 {
	sampleCount := len(frame) / 2
	if sampleCount == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < sampleCount; i++ {
		sample := float64(int16(binary.LittleEndian.Uint16(frame[i*2 : i*2+2])))
		sum += sample * sample
	}
	return math.Sqrt(sum / float64(sampleCount))
}
