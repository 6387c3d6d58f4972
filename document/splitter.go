package document

import (
	"strings"
	"unicode/utf8"
)

// SplitText breaks text into pieces of at most size characters, carrying
// roughly overlap characters from the end of one piece into the next.
// Paragraph boundaries are preferred, then line boundaries, then words.
func SplitText(text string, size, overlap int) []string {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}

	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return nil
	}
	if len(text) <= size {
		return []string{text}
	}

	pieces := splitBySeparators(text, size, []string{"\n\n", "\n", " "})
	return mergePieces(pieces, size, overlap)
}

// splitBySeparators cuts text on the first separator, recursing with the
// remaining separators on any piece still larger than size. Pieces that fit
// are returned as-is so merging can pack them back together.
func splitBySeparators(text string, size int, separators []string) []string {
	if len(text) <= size || len(separators) == 0 {
		return hardSplit(text, size)
	}

	sep := separators[0]
	parts := strings.Split(text, sep)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if len(part) <= size {
			result = append(result, part)
			continue
		}
		result = append(result, splitBySeparators(part, size, separators[1:])...)
	}
	return result
}

// hardSplit is the last resort for text with no usable separator. Cuts
// land on rune boundaries so a multibyte character is never torn across
// two chunks.
func hardSplit(text string, size int) []string {
	if len(text) <= size {
		return []string{text}
	}
	chunks := make([]string, 0, len(text)/size+1)
	for len(text) > size {
		cut := size
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = size
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func mergePieces(pieces []string, size, overlap int) []string {
	chunks := make([]string, 0, len(pieces))
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunk := strings.TrimSpace(current.String())
		current.Reset()
		if chunk == "" {
			return
		}
		chunks = append(chunks, chunk)
		if overlap > 0 && len(chunk) > overlap {
			start := len(chunk) - overlap
			for start < len(chunk) && !utf8.RuneStart(chunk[start]) {
				start++
			}
			tail := chunk[start:]
			if idx := strings.IndexAny(tail, " \n"); idx >= 0 && idx < len(tail)-1 {
				tail = tail[idx+1:]
			}
			current.WriteString(tail)
		}
	}

	for _, piece := range pieces {
		if current.Len() > 0 && current.Len()+len(piece)+1 > size {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(piece)
	}

	if strings.TrimSpace(current.String()) != "" {
		chunk := strings.TrimSpace(current.String())
		if len(chunks) == 0 || chunks[len(chunks)-1] != chunk {
			chunks = append(chunks, chunk)
		}
	}

	return chunks
}
