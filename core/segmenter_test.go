package orchestration

import (
	"strings"
	"testing"
)

func collectChunks(s *sentenceSegmenter, fragments ...string) []speakableText {
	var chunks []speakableText
	for _, fragment := range fragments {
		chunks = append(chunks, s.Feed(fragment)...)
	}
	if chunk, ok := s.Flush(); ok {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func TestSegmenterSplitsOnTerminalPunctuation(t *testing.T) {
	s := newSentenceSegmenter(0)

	chunks := collectChunks(s, "こんにちは。今日はいい天気だね")

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
	if chunks[0].Text != "こんにちは。" {
		t.Fatalf("expected first chunk to end at the sentence boundary, got %q", chunks[0].Text)
	}
	if chunks[1].Text != "今日はいい天気だね" {
		t.Fatalf("expected remainder flushed whole, got %q", chunks[1].Text)
	}
}

func TestSegmenterHoldsTrailingTerminatorForFlush(t *testing.T) {
	s := newSentenceSegmenter(0)

	if chunks := s.Feed("こんにちは、霊夢です。"); len(chunks) != 0 {
		t.Fatalf("expected a trailing terminator to be held for more input, got %v", chunks)
	}

	chunk, ok := s.Flush()
	if !ok {
		t.Fatalf("expected flush to emit the held sentence")
	}
	if chunk.Text != "こんにちは、霊夢です。" {
		t.Fatalf("expected the full sentence on flush, got %q", chunk.Text)
	}
	if chunk.Sequence != 0 {
		t.Fatalf("expected sequence 0, got %d", chunk.Sequence)
	}
}

func TestSegmenterKeepsConsecutiveTerminatorsTogether(t *testing.T) {
	s := newSentenceSegmenter(0)

	chunks := collectChunks(s, "えっ！？そうなの")

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
	if chunks[0].Text != "えっ！？" {
		t.Fatalf("expected the terminator run kept whole, got %q", chunks[0].Text)
	}
}

func TestSegmenterIgnoresPunctuationInsideQuotes(t *testing.T) {
	s := newSentenceSegmenter(0)

	chunks := collectChunks(s, "「これは。テスト」だよ。おしまい")

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
	if chunks[0].Text != "「これは。テスト」だよ。" {
		t.Fatalf("expected the quoted punctuation not to split, got %q", chunks[0].Text)
	}
}

func TestSegmenterKeepsDecimalNumbersWhole(t *testing.T) {
	s := newSentenceSegmenter(0)

	chunks := collectChunks(s, "円周率は3.14です。はい")

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
	if chunks[0].Text != "円周率は3.14です。" {
		t.Fatalf("expected the decimal point not to split, got %q", chunks[0].Text)
	}
}

func TestSegmenterForcesSplitAtMaxLength(t *testing.T) {
	s := newSentenceSegmenter(5)

	chunks := collectChunks(s, "あいうえおかきくけこさし")

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %v", len(chunks), chunks)
	}
	if chunks[0].Text != "あいうえお" || chunks[1].Text != "かきくけこ" || chunks[2].Text != "さし" {
		t.Fatalf("expected forced splits every 5 runes, got %v", chunks)
	}
	for i, chunk := range chunks {
		if chunk.Sequence != i {
			t.Fatalf("expected contiguous sequence numbers, got %d at position %d", chunk.Sequence, i)
		}
	}
}

func TestSegmenterForcesSplitInsideUnterminatedQuote(t *testing.T) {
	s := newSentenceSegmenter(4)

	chunks := collectChunks(s, "「あいうえおかき")

	if len(chunks) < 2 {
		t.Fatalf("expected an unterminated quote to still split at max length, got %v", chunks)
	}
}

func TestSegmenterForcesSplitThroughQuoteRuns(t *testing.T) {
	s := newSentenceSegmenter(3)

	chunks := collectChunks(s, "「「「「「「")

	if len(chunks) != 2 {
		t.Fatalf("expected a run of quote marks to split at max length, got %v", chunks)
	}
	if chunks[0].Text != "「「「" || chunks[1].Text != "「「「" {
		t.Fatalf("expected 3-rune chunks, got %v", chunks)
	}
}

func TestSegmenterReconstructsInputExactly(t *testing.T) {
	input := "Hello. World!  これは テストです。\n「引用。中身」終わり！？最後"
	s := newSentenceSegmenter(0)

	var rebuilt strings.Builder
	for _, chunk := range collectChunks(s, input) {
		rebuilt.WriteString(chunk.Text)
	}

	if rebuilt.String() != input {
		t.Fatalf("expected chunk concatenation to reproduce the input exactly,\nwant %q\ngot  %q", input, rebuilt.String())
	}
}

func TestSegmenterSplitsAcrossFragmentBoundaries(t *testing.T) {
	s := newSentenceSegmenter(0)

	var chunks []speakableText
	for _, fragment := range []string{"こんに", "ちは。今日", "は晴れ"} {
		chunks = append(chunks, s.Feed(fragment)...)
	}
	if chunk, ok := s.Flush(); ok {
		chunks = append(chunks, chunk)
	}

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
	if chunks[0].Text != "こんにちは。" {
		t.Fatalf("expected the boundary found across fragments, got %q", chunks[0].Text)
	}
	if chunks[1].Text != "今日は晴れ" {
		t.Fatalf("expected the remainder flushed, got %q", chunks[1].Text)
	}
}

func TestSegmenterFlushDropsWhitespaceOnlyRemainder(t *testing.T) {
	s := newSentenceSegmenter(0)
	s.Feed("おわり。 \n")

	chunk, ok := s.Flush()
	if ok {
		t.Fatalf("expected no chunk from a whitespace-only remainder, got %q", chunk.Text)
	}
}
