package document

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitTextEmptyInput(t *testing.T) {
	if got := SplitText("", 1000, 100); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
	if got := SplitText("   \n\t  ", 1000, 100); got != nil {
		t.Fatalf("expected nil for whitespace input, got %v", got)
	}
}

func TestSplitTextShortInputSingleChunk(t *testing.T) {
	got := SplitText("hello world", 1000, 100)
	if len(got) != 1 || got[0] != "hello world" {
		t.Fatalf("expected single chunk, got %v", got)
	}
}

func TestSplitTextRespectsSize(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("paragraph with a reasonable amount of words in it.\n\n")
	}

	chunks := SplitText(b.String(), 200, 40)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > 250 {
			t.Errorf("chunk %d exceeds size bound: %d chars", i, len(chunk))
		}
		if strings.TrimSpace(chunk) == "" {
			t.Errorf("chunk %d is blank", i)
		}
	}
}

func TestSplitTextOverlapCarriesTail(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta epsilon zeta. ", 40)
	chunks := SplitText(text, 150, 50)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		// The next chunk starts with some suffix of the previous one.
		firstLine := chunks[i]
		if idx := strings.IndexAny(firstLine, "\n"); idx >= 0 {
			firstLine = firstLine[:idx]
		}
		if !strings.Contains(prev, strings.Fields(firstLine)[0]) {
			t.Errorf("chunk %d does not overlap with its predecessor", i)
		}
	}
}

func TestSplitTextHardSplitsUnbrokenText(t *testing.T) {
	text := strings.Repeat("x", 2500)
	chunks := SplitText(text, 1000, 0)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > 1000 {
			t.Errorf("chunk %d exceeds hard size: %d", i, len(chunk))
		}
	}
}

func TestSplitTextHardSplitKeepsRunesWhole(t *testing.T) {
	// No separators at all, forcing the hard split path through multibyte
	// text whose rune boundaries do not align with the chunk size.
	text := strings.Repeat("日本語", 200)
	chunks := SplitText(text, 100, 0)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if !utf8.ValidString(chunk) {
			t.Fatalf("chunk %d is not valid UTF-8: %q", i, chunk)
		}
	}
	if got := strings.Join(chunks, ""); got != text {
		t.Fatal("hard split lost or duplicated content")
	}
}

func TestSplitTextOverlapKeepsRunesWhole(t *testing.T) {
	text := strings.Repeat("世界のことば ", 120)
	chunks := SplitText(text, 150, 50)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if !utf8.ValidString(chunk) {
			t.Fatalf("chunk %d is not valid UTF-8: %q", i, chunk)
		}
	}
}

func TestSplitTextNormalizesCRLF(t *testing.T) {
	chunks := SplitText("first paragraph\r\n\r\nsecond paragraph", 1000, 0)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if strings.Contains(chunks[0], "\r") {
		t.Fatalf("carriage returns survived normalization: %q", chunks[0])
	}
}
