package generation

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/amoshnin/documind/llm"
	"github.com/amoshnin/documind/retrieval"
)

const (
	fallbackCitationCount = 3
	fallbackSnippetMaxLen = 300
)

// markerGuard accumulates streamed text and releases only the portion that
// provably cannot contain (a prefix of) the marker. Occurrences of the
// marker itself are stripped. The guard withholds the last markerLen-1
// sanitized characters until flush, so a marker split across any number of
// chunk boundaries can never reach the caller.
type markerGuard struct {
	marker  string
	raw     strings.Builder
	emitted int
}

func newMarkerGuard(marker string) *markerGuard {
	return &markerGuard{marker: marker}
}

// push adds streamed text and returns the newly safe portion, if any.
// The boundary is snapped back to a rune start so a multibyte character
// straddling the withheld tail is never emitted half at a time.
func (g *markerGuard) push(text string) string {
	g.raw.WriteString(text)
	sanitized := g.sanitized()

	hold := len(g.marker) - 1
	if hold < 0 {
		hold = 0
	}
	safe := len(sanitized) - hold
	for safe > g.emitted && safe < len(sanitized) && !utf8.RuneStart(sanitized[safe]) {
		safe--
	}
	if safe <= g.emitted {
		return ""
	}

	out := sanitized[g.emitted:safe]
	g.emitted = safe
	return out
}

// flush releases the withheld remainder once the stream has ended and no
// partial marker can complete anymore.
func (g *markerGuard) flush() string {
	sanitized := g.sanitized()
	if g.emitted >= len(sanitized) {
		return ""
	}
	out := sanitized[g.emitted:]
	g.emitted = len(sanitized)
	return out
}

// sanitized is the full buffered text with every marker occurrence removed.
// Removal repeats until a fixpoint: deleting one occurrence can splice the
// surrounding text into a fresh occurrence, and a single pass would let
// that reassembled marker through.
func (g *markerGuard) sanitized() string {
	out := g.raw.String()
	if g.marker == "" {
		return out
	}
	for strings.Contains(out, g.marker) {
		out = strings.ReplaceAll(out, g.marker, "")
	}
	return out
}

// fragmentAccumulator collects tool-call argument fragments keyed by the
// provider's fragment index. Multiple concurrent fragment streams are
// possible; each index gets its own buffer and the buffers are finalized
// in explicit index order, never map-iteration order.
type fragmentAccumulator struct {
	buffers map[int]*strings.Builder
}

func newFragmentAccumulator() *fragmentAccumulator {
	return &fragmentAccumulator{buffers: make(map[int]*strings.Builder)}
}

func (a *fragmentAccumulator) add(index int, fragment string) {
	if fragment == "" {
		return
	}
	buf, ok := a.buffers[index]
	if !ok {
		buf = &strings.Builder{}
		a.buffers[index] = buf
	}
	buf.WriteString(fragment)
}

type citationsPayload struct {
	Citations []Citation `json:"citations"`
}

// citations parses each buffer as a citations payload, best effort:
// a malformed buffer is skipped, never fatal.
func (a *fragmentAccumulator) citations() []Citation {
	indexes := make([]int, 0, len(a.buffers))
	for index := range a.buffers {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)

	var citations []Citation
	for _, index := range indexes {
		var payload citationsPayload
		if err := json.Unmarshal([]byte(a.buffers[index].String()), &payload); err != nil {
			continue
		}
		citations = append(citations, payload.Citations...)
	}
	return citations
}

// fallbackCitations synthesizes citations verbatim from the top retrieved
// chunks when the model never produced a parseable citation payload.
func fallbackCitations(retrieved []retrieval.ScoredChunk) []Citation {
	limit := fallbackCitationCount
	if len(retrieved) < limit {
		limit = len(retrieved)
	}

	citations := make([]Citation, 0, limit)
	for _, result := range retrieved[:limit] {
		snippet := strings.TrimSpace(result.Chunk.Content)
		if len(snippet) > fallbackSnippetMaxLen {
			cut := fallbackSnippetMaxLen
			for cut > 0 && !utf8.RuneStart(snippet[cut]) {
				cut--
			}
			snippet = snippet[:cut]
		}
		meta := result.Chunk.Metadata
		citations = append(citations, Citation{
			SourceText: snippet,
			Metadata: CitationMetadata{
				DocumentID: meta.DocumentID,
				Filename:   meta.Filename,
				PageNumber: meta.PageNumber,
			},
		})
	}
	return citations
}

// StreamAnswer streams answer tokens while collecting citations the model
// emits through the citation tool call. The returned channel produces zero
// or more Token events followed by exactly one terminal event. Transitions
// are one-directional: streaming, then finalizing, then the terminal event;
// there are no retries within a stream.
func (s *Service) StreamAnswer(ctx context.Context, query string, history []llm.Message, retrieved []retrieval.ScoredChunk) <-chan StreamEvent {
	events := make(chan StreamEvent)

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: formatUserMessage(query, retrieved)})

	go func() {
		defer close(events)

		emit := func(ev StreamEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		guard := newMarkerGuard(citationToolName)
		fragments := newFragmentAccumulator()

		streamErr := s.client.GenerateStream(ctx, messages, citationsTool(), func(chunk llm.StreamChunk) error {
			for _, call := range chunk.ToolCalls {
				fragments.add(call.Index, call.Arguments)
			}
			if chunk.Content == "" {
				return nil
			}
			if safe := guard.push(chunk.Content); safe != "" {
				if !emit(StreamEvent{Type: EventToken, Text: safe}) {
					return ctx.Err()
				}
			}
			return nil
		})

		if streamErr == nil {
			if remainder := guard.flush(); remainder != "" {
				if !emit(StreamEvent{Type: EventToken, Text: remainder}) {
					return
				}
			}
		}

		answer := strings.TrimSpace(guard.sanitized())

		if streamErr != nil {
			if answer == "" {
				// Nothing usable was produced; surface the failure.
				emit(StreamEvent{Type: EventError, Err: streamErr})
				return
			}
			s.logger.Printf("stream ended early, finalizing with partial answer: %v", streamErr)
			emit(StreamEvent{Type: EventFinal, Answer: finalAnswer(answer, fragments, retrieved)})
			return
		}

		if answer == "" {
			// The model streamed no visible text at all. Recover with the
			// non-streaming engine.
			resp, err := s.Answer(ctx, query, retrieved)
			if err != nil {
				emit(StreamEvent{Type: EventError, Err: err})
				return
			}
			emit(StreamEvent{Type: EventFinal, Answer: &resp})
			return
		}

		emit(StreamEvent{Type: EventFinal, Answer: finalAnswer(answer, fragments, retrieved)})
	}()

	return events
}

func finalAnswer(answer string, fragments *fragmentAccumulator, retrieved []retrieval.ScoredChunk) *AnswerResponse {
	citations := fragments.citations()
	if len(citations) == 0 {
		citations = fallbackCitations(retrieved)
	}
	if citations == nil {
		citations = []Citation{}
	}
	return &AnswerResponse{Answer: answer, Citations: citations}
}
