package orchestration

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/mikanbako-lab/miko-core/core/audio"
	"github.com/mikanbako-lab/miko-core/core/events"
)

type scriptedAudioInput struct {
	streamErr error
}

func (s *scriptedAudioInput) Stream(ctx context.Context, onAudio func(audio []byte)) error {
	return s.streamErr
}

func (s *scriptedAudioInput) EncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}

// pcmFrame builds 100ms of linear16 samples at a constant amplitude, so the
// frame's RMS equals the amplitude exactly.
func pcmFrame(amplitude int16) []byte {
	info := audio.GetDefaultEncodingInfo()
	sampleCount := info.SampleRate / 10

	frame := make([]byte, sampleCount*2)
	for i := 0; i < sampleCount; i++ {
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(amplitude))
	}
	return frame
}

func testCaptureOptions() captureOptions {
	options := defaultCaptureOptions()
	options.vadSmoothing = 1
	return options
}

// startCapture runs the pipeline's dispatch goroutine for the test's
// lifetime. Frames are still injected directly through processFrame.
func startCapture(t *testing.T, p *capturePipeline) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	p.Start(ctx)
}

func TestCaptureEmitsUtteranceAfterTrailingSilence(t *testing.T) {
	utterances := make(chan events.UtteranceCaptured, 1)
	p := newCapturePipeline(&scriptedAudioInput{}, testCaptureOptions(), func(u events.UtteranceCaptured) {
		utterances <- u
	}, nil)
	startCapture(t, p)

	loud := pcmFrame(1000)
	quiet := pcmFrame(0)

	for i := 0; i < 5; i++ { // 500ms of speech
		p.processFrame(loud)
	}
	for i := 0; i < 8; i++ { // 800ms of silence
		p.processFrame(quiet)
	}

	select {
	case utterance := <-utterances:
		if utterance.Duration != 500*time.Millisecond {
			t.Fatalf("expected 500ms of voiced audio, got %v", utterance.Duration)
		}
		// 500ms of speech plus the 800ms silent tail.
		wantBytes := audio.GetDefaultEncodingInfo().Bytes(1300 * time.Millisecond)
		if len(utterance.Audio) != wantBytes {
			t.Fatalf("expected %d buffered bytes including the silent tail, got %d", wantBytes, len(utterance.Audio))
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("expected an utterance after the silence threshold")
	}
}

func TestCaptureDiscardsShortNoise(t *testing.T) {
	utterances := make(chan events.UtteranceCaptured, 1)
	p := newCapturePipeline(&scriptedAudioInput{}, testCaptureOptions(), func(u events.UtteranceCaptured) {
		utterances <- u
	}, nil)
	startCapture(t, p)

	loud := pcmFrame(1000)
	quiet := pcmFrame(0)

	for i := 0; i < 2; i++ { // 200ms, below the minimum voiced duration
		p.processFrame(loud)
	}
	for i := 0; i < 8; i++ {
		p.processFrame(quiet)
	}

	select {
	case <-utterances:
		t.Fatalf("expected a sub-threshold burst to be discarded as noise")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestCaptureStaysIdleThroughSilence(t *testing.T) {
	utterances := make(chan events.UtteranceCaptured, 1)
	p := newCapturePipeline(&scriptedAudioInput{}, testCaptureOptions(), func(u events.UtteranceCaptured) {
		utterances <- u
	}, nil)

	startCapture(t, p)

	quiet := pcmFrame(0)
	for i := 0; i < 30; i++ {
		p.processFrame(quiet)
	}

	select {
	case <-utterances:
		t.Fatalf("expected no utterance from silence")
	case <-time.After(200 * time.Millisecond):
	}
	if len(p.buffer) != 0 {
		t.Fatalf("expected nothing buffered while idle, got %d bytes", len(p.buffer))
	}
}

func TestCaptureResumesAfterFinalizedUtterance(t *testing.T) {
	utterances := make(chan events.UtteranceCaptured, 2)
	p := newCapturePipeline(&scriptedAudioInput{}, testCaptureOptions(), func(u events.UtteranceCaptured) {
		utterances <- u
	}, nil)
	startCapture(t, p)

	loud := pcmFrame(1000)
	quiet := pcmFrame(0)

	for round := 0; round < 2; round++ {
		for i := 0; i < 4; i++ {
			p.processFrame(loud)
		}
		for i := 0; i < 8; i++ {
			p.processFrame(quiet)
		}
	}

	for i := 0; i < 2; i++ {
		select {
		case <-utterances:
		case <-time.After(5 * time.Second):
			t.Fatalf("expected two independent utterances, got %d", i)
		}
	}
}

func TestCaptureFrameProcessingStaysFastWhileConsumerBlocks(t *testing.T) {
	release := make(chan struct{})
	consumed := make(chan events.UtteranceCaptured, 1)
	p := newCapturePipeline(&scriptedAudioInput{}, testCaptureOptions(), func(u events.UtteranceCaptured) {
		<-release
		consumed <- u
	}, nil)
	startCapture(t, p)

	loud := pcmFrame(1000)
	quiet := pcmFrame(0)

	// The consumer is stuck, the device callback path must not be.
	started := time.Now()
	for i := 0; i < 5; i++ {
		p.processFrame(loud)
	}
	for i := 0; i < 8; i++ {
		p.processFrame(quiet)
	}
	if elapsed := time.Since(started); elapsed > 200*time.Millisecond {
		t.Fatalf("expected frame processing to stay off the consumer's critical path, took %v", elapsed)
	}

	close(release)
	select {
	case <-consumed:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for the utterance to reach the consumer")
	}
}

func TestCaptureReportsDeviceFailure(t *testing.T) {
	failures := make(chan error, 1)
	p := newCapturePipeline(
		&scriptedAudioInput{streamErr: errors.New("device unplugged")},
		testCaptureOptions(),
		nil,
		func(err error) { failures <- err },
	)
	p.Start(context.Background())

	select {
	case err := <-failures:
		var deviceErr *CaptureDeviceError
		if !errors.As(err, &deviceErr) {
			t.Fatalf("expected a CaptureDeviceError, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for the failure callback")
	}
}
