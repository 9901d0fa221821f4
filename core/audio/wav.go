package audio

import (
	"encoding/binary"
	"fmt"
)

// DecodeWAV extracts the raw sample data and encoding info from a RIFF/WAVE
// buffer. Only PCM data chunks are supported, which is what local synthesis
// engines produce.
func DecodeWAV(wav []byte) ([]byte, EncodingInfo, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, EncodingInfo{}, fmt.Errorf("not a RIFF/WAVE buffer")
	}

	info := EncodingInfo{}
	var data []byte

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkSize > len(wav) {
			chunkSize = len(wav) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, EncodingInfo{}, fmt.Errorf("malformed fmt chunk")
			}
			audioFormat := binary.LittleEndian.Uint16(wav[body : body+2])
			if audioFormat != 1 {
				return nil, EncodingInfo{}, fmt.Errorf("unsupported wav format %d, expected PCM", audioFormat)
			}
			info.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			bitsPerSample := binary.LittleEndian.Uint16(wav[body+14 : body+16])
			if bitsPerSample != 16 {
				return nil, EncodingInfo{}, fmt.Errorf("unsupported bit depth %d, expected 16", bitsPerSample)
			}
			info.Format = EncodingLinear16

		case "data":
			data = wav[body : body+chunkSize]
		}

		// Chunks are word aligned.
		if chunkSize%2 == 1 {
			chunkSize++
		}
		offset = body + chunkSize
	}

	if info.IsZero() {
		return nil, EncodingInfo{}, fmt.Errorf("missing fmt chunk")
	}
	if data == nil {
		return nil, EncodingInfo{}, fmt.Errorf("missing data chunk")
	}

	return data, info, nil
}

// EncodeWAV wraps raw linear16 samples in a minimal RIFF/WAVE header so they
// can be handed to collaborators that expect a self-describing buffer.
func EncodeWAV(pcm []byte, info EncodingInfo) []byte {
	sampleRate := info.SampleRate
	if sampleRate == 0 {
		sampleRate = DefaultSampleRate
	}
	const channels = 1
	const bitsPerSample = 16

	buf := make([]byte, 44+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*channels*bitsPerSample/8))
	binary.LittleEndian.PutUint16(buf[32:34], channels*bitsPerSample/8)
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}
