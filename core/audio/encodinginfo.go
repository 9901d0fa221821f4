package audio

import "time"

const (
	DefaultSampleRate = 16000
	DefaultFormat     = "linear16"
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: encodingFormat(DefaultFormat)}
}

type EncodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

// Duration reports how long the given number of raw audio bytes takes to play.
func (e EncodingInfo) Duration(byteLen int) time.Duration {
	if e.IsZero() {
		return 0
	}

	return time.Duration(float64(byteLen) / float64(e.SampleRate) / float64(e.Format.ByteSize()) * float64(time.Second))
}

// Bytes reports how many raw audio bytes cover the given duration.
func (e EncodingInfo) Bytes(duration time.Duration) int {
	if e.IsZero() {
		return 0
	}

	return int(float64(duration) / float64(time.Second) * float64(e.SampleRate) * float64(e.Format.ByteSize()))
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case EncodingLinear16:
		return 2
	case EncodingMulaw, EncodingALaw:
		return 1
	}
	return -1
}

const (
	EncodingLinear16 encodingFormat = "linear16"
	EncodingMulaw    encodingFormat = "mulaw"
	EncodingALaw     encodingFormat = "alaw"
)
