package orchestration

import (
	"strings"
	"unicode"
)

const defaultMaxSegmentRunes = 120

// sentenceSegmenter turns a raw fragment stream into speakable chunks. A
// chunk closes on sentence-terminal punctuation, on the configured maximum
// rune length, or on flush. Concatenating every emitted chunk reproduces the
// fed text exactly, which keeps the displayed turn text and the spoken text
// in lockstep.
//
// State is per turn. A new turn gets a fresh segmenter.
type sentenceSegmenter struct {
	maxRunes int

	pending  []rune
	sequence int
}

func newSentenceSegmenter(maxRunes int) *sentenceSegmenter {
	if maxRunes <= 0 {
		maxRunes = defaultMaxSegmentRunes
	}
	return &sentenceSegmenter{maxRunes: maxRunes}
}

// Feed appends a fragment and returns every chunk completed by it, in order.
func (s *sentenceSegmenter) Feed(fragment string) []speakableText {
	s.pending = append(s.pending, []rune(fragment)...)

	var chunks []speakableText
	for {
		boundary := s.findBoundary()
		if boundary < 0 {
			break
		}

		chunks = append(chunks, s.cut(boundary))
	}
	return chunks
}

// Flush emits any trailing chunk. A whitespace-only remainder produces
// nothing but is still consumed.
func (s *sentenceSegmenter) Flush() (speakableText, bool) {
	remainder := string(s.pending)
	s.pending = nil

	if strings.TrimSpace(remainder) == "" {
		return speakableText{}, false
	}

	chunk := speakableText{Sequence: s.sequence, Text: remainder}
	s.sequence++
	return chunk, true
}

// findBoundary reports the index of the last rune of the next complete
// chunk, or -1 when the pending text should be held for more input.
func (s *sentenceSegmenter) findBoundary() int {
	quoteDepth := 0
	for i, r := range s.pending {
		// The length bound applies to every rune, quote marks included,
		// otherwise run-on quoted text stalls synthesis for the whole turn.
		if i+1 >= s.maxRunes {
			return i
		}

		switch r {
		case '「', '『':
			quoteDepth++
			continue
		case '」', '』':
			if quoteDepth > 0 {
				quoteDepth--
			}
			continue
		}

		if quoteDepth > 0 || !isTerminalPunct(r) {
			continue
		}

		if r == '.' && !s.resolvablePeriod(i) {
			continue
		}

		// Extend through consecutive terminators so "えっ！？" stays whole.
		// The trailing terminator run must itself be complete before the
		// boundary is usable.
		end := i
		for end+1 < len(s.pending) && isTerminalPunct(s.pending[end+1]) {
			end++
		}
		if end == len(s.pending)-1 {
			return -1
		}
		return end
	}

	return -1
}

// resolvablePeriod reports whether the period at index i is a sentence
// boundary rather than part of a number like 3.14. An unresolved trailing
// period holds the chunk, trading latency for coherence.
func (s *sentenceSegmenter) resolvablePeriod(i int) bool {
	if i+1 >= len(s.pending) {
		return false
	}
	prevDigit := i > 0 && unicode.IsDigit(s.pending[i-1])
	nextDigit := unicode.IsDigit(s.pending[i+1])
	return !(prevDigit && nextDigit)
}

func (s *sentenceSegmenter) cut(boundary int) speakableText {
	text := string(s.pending[:boundary+1])
	s.pending = append([]rune(nil), s.pending[boundary+1:]...)

	chunk := speakableText{Sequence: s.sequence, Text: text}
	s.sequence++
	return chunk
}

func isTerminalPunct(r rune) bool {
	switch r {
	case '。', '！', '？', '!', '?', '.':
		return true
	}
	return false
}

// speakableText is a bounded chunk of assistant text ready for synthesis.
// Sequence numbers are contiguous from 0 within a turn and are the sole
// ordering key for playback.
type speakableText struct {
	Sequence int
	Text     string
}
