package generation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/amoshnin/documind/llm"
)

func collectEvents(t *testing.T, events <-chan StreamEvent) (string, StreamEvent) {
	t.Helper()

	var text strings.Builder
	var terminal StreamEvent
	sawTerminal := false
	for ev := range events {
		switch ev.Type {
		case EventToken:
			if sawTerminal {
				t.Fatal("token event after terminal event")
			}
			text.WriteString(ev.Text)
		case EventFinal, EventError:
			if sawTerminal {
				t.Fatal("more than one terminal event")
			}
			sawTerminal = true
			terminal = ev
		}
	}
	if !sawTerminal {
		t.Fatal("stream ended without a terminal event")
	}
	return text.String(), terminal
}

func TestMarkerGuardPassesPlainText(t *testing.T) {
	g := newMarkerGuard("MARK")
	out := g.push("hello ") + g.push("world") + g.flush()
	if out != "hello world" {
		t.Fatalf("got %q", out)
	}
}

func TestMarkerGuardStripsWholeMarker(t *testing.T) {
	g := newMarkerGuard("MARK")
	out := g.push("before MARK after") + g.flush()
	if out != "before  after" {
		t.Fatalf("got %q", out)
	}
}

func TestMarkerGuardStripsMarkerAcrossSplits(t *testing.T) {
	marker := "record_citations"
	full := "the answer record_citations continues here"

	// Every possible split point of the input must yield the same
	// sanitized output with no marker fragment leaking.
	want := strings.ReplaceAll(full, marker, "")
	for i := 0; i <= len(full); i++ {
		g := newMarkerGuard(marker)
		out := g.push(full[:i]) + g.push(full[i:]) + g.flush()
		if out != want {
			t.Fatalf("split at %d: got %q, want %q", i, out, want)
		}
	}
}

func TestMarkerGuardEmittedPrefixStable(t *testing.T) {
	g := newMarkerGuard("MARK")
	first := g.push("some text that is long enough MA")
	rest := g.push("RK trailing") + g.flush()
	combined := first + rest
	if strings.Contains(combined, "MARK") {
		t.Fatalf("marker leaked: %q", combined)
	}
	if !strings.HasPrefix(combined, first) {
		t.Fatal("previously emitted prefix changed")
	}
}

func TestMarkerGuardEmitsWholeRunes(t *testing.T) {
	input := strings.Repeat("a", 20) + "世界" + strings.Repeat("b", 14)
	g := newMarkerGuard("record_citations")

	var pieces []string
	if out := g.push(input); out != "" {
		pieces = append(pieces, out)
	}
	if out := g.flush(); out != "" {
		pieces = append(pieces, out)
	}

	for i, piece := range pieces {
		if !utf8.ValidString(piece) {
			t.Fatalf("piece %d is not valid UTF-8: %q", i, piece)
		}
	}
	if got := strings.Join(pieces, ""); got != input {
		t.Fatalf("got %q, want %q", got, input)
	}
}

func TestMarkerGuardWholeRunesAcrossPushes(t *testing.T) {
	marker := "record_citations"
	input := "answer 世界 with more 日本語 text and a long enough tail"

	// Whatever the chunking, no emitted piece may end or start mid-rune.
	for i := 0; i <= len(input); i++ {
		g := newMarkerGuard(marker)
		var pieces []string
		for _, part := range []string{input[:i], input[i:]} {
			if out := g.push(part); out != "" {
				pieces = append(pieces, out)
			}
		}
		if out := g.flush(); out != "" {
			pieces = append(pieces, out)
		}

		for _, piece := range pieces {
			if !utf8.ValidString(piece) {
				t.Fatalf("split at %d produced invalid UTF-8 piece %q", i, piece)
			}
		}
		if got := strings.Join(pieces, ""); got != input {
			t.Fatalf("split at %d: got %q, want %q", i, got, input)
		}
	}
}

func TestMarkerGuardStripsReassembledMarker(t *testing.T) {
	g := newMarkerGuard("record_citations")

	var out strings.Builder
	out.WriteString(g.push("record_"))
	out.WriteString(g.push("record_citations"))
	out.WriteString(g.push("citations and then plenty of trailing text to push it out"))
	out.WriteString(g.flush())

	got := out.String()
	if strings.Contains(got, "record_citations") {
		t.Fatalf("reassembled marker leaked: %q", got)
	}
	if got != " and then plenty of trailing text to push it out" {
		t.Fatalf("got %q", got)
	}
}

func TestFragmentAccumulatorOrdersByIndex(t *testing.T) {
	a := newFragmentAccumulator()
	a.add(1, `{"citations":[{"source_text":"second","metadata":{"document_id":"d","filename":"f","page_number":2}}]}`)
	a.add(0, `{"citations":[{"source_text":"first",`)
	a.add(0, `"metadata":{"document_id":"d","filename":"f","page_number":1}}]}`)

	citations := a.citations()
	if len(citations) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(citations))
	}
	if citations[0].SourceText != "first" || citations[1].SourceText != "second" {
		t.Fatalf("citations out of index order: %v", citations)
	}
}

func TestFragmentAccumulatorSkipsMalformed(t *testing.T) {
	a := newFragmentAccumulator()
	a.add(0, `{"citations": broken`)
	a.add(1, `{"citations":[{"source_text":"good","metadata":{"document_id":"d","filename":"f","page_number":1}}]}`)

	citations := a.citations()
	if len(citations) != 1 || citations[0].SourceText != "good" {
		t.Fatalf("expected only the parseable payload, got %v", citations)
	}
}

func TestFallbackCitationsTruncates(t *testing.T) {
	retrieved := retrievedChunks("one", "two", "three", "four", "five")
	citations := fallbackCitations(retrieved)
	if len(citations) != fallbackCitationCount {
		t.Fatalf("expected %d fallback citations, got %d", fallbackCitationCount, len(citations))
	}
	if citations[0].SourceText != "one" {
		t.Fatalf("fallback must follow retrieval order, got %q", citations[0].SourceText)
	}
	if citations[0].Metadata.Filename != "sla.txt" {
		t.Fatalf("metadata not carried over: %v", citations[0].Metadata)
	}
}

func TestFallbackCitationsClipsLongSnippets(t *testing.T) {
	long := strings.Repeat("a", fallbackSnippetMaxLen+100)
	citations := fallbackCitations(retrievedChunks(long))
	if len(citations) != 1 {
		t.Fatalf("expected 1 citation, got %d", len(citations))
	}
	if len(citations[0].SourceText) != fallbackSnippetMaxLen {
		t.Fatalf("snippet length = %d, want %d", len(citations[0].SourceText), fallbackSnippetMaxLen)
	}
}

func TestFallbackCitationsRuneSafeTruncation(t *testing.T) {
	long := "a" + strings.Repeat("界", 150)
	citations := fallbackCitations(retrievedChunks(long))
	if len(citations) != 1 {
		t.Fatalf("expected 1 citation, got %d", len(citations))
	}

	snippet := citations[0].SourceText
	if len(snippet) > fallbackSnippetMaxLen {
		t.Fatalf("snippet length = %d exceeds %d", len(snippet), fallbackSnippetMaxLen)
	}
	if !utf8.ValidString(snippet) {
		t.Fatalf("snippet is not valid UTF-8: %q", snippet)
	}
	if !strings.HasPrefix(long, snippet) {
		t.Fatal("snippet is not a prefix of the chunk content")
	}
}

func TestStreamAnswerTokensAndToolCitations(t *testing.T) {
	client := &stubClient{
		streamChunks: []llm.StreamChunk{
			{Content: "Uptime "},
			{Content: "is 99.9%."},
			{ToolCalls: []llm.ToolCallDelta{{Index: 0, Name: citationToolName, Arguments: `{"citations":[{"source_text":"99.9%",`}}},
			{ToolCalls: []llm.ToolCallDelta{{Index: 0, Arguments: `"metadata":{"document_id":"doc-1","filename":"sla.txt","page_number":1}}]}`}}},
		},
	}
	svc := NewService(client, testLogger())

	text, terminal := collectEvents(t, svc.StreamAnswer(context.Background(), "uptime?", nil, retrievedChunks("99.9% uptime")))
	if text != "Uptime is 99.9%." {
		t.Fatalf("streamed text = %q", text)
	}
	if terminal.Type != EventFinal {
		t.Fatalf("terminal = %v", terminal)
	}
	if terminal.Answer.Answer != "Uptime is 99.9%." {
		t.Fatalf("final answer = %q", terminal.Answer.Answer)
	}
	if len(terminal.Answer.Citations) != 1 || terminal.Answer.Citations[0].SourceText != "99.9%" {
		t.Fatalf("citations = %v", terminal.Answer.Citations)
	}
}

func TestStreamAnswerMarkerNeverLeaks(t *testing.T) {
	client := &stubClient{
		streamChunks: []llm.StreamChunk{
			{Content: "answer text record_"},
			{Content: "citations and more"},
		},
	}
	svc := NewService(client, testLogger())

	text, terminal := collectEvents(t, svc.StreamAnswer(context.Background(), "q", nil, retrievedChunks("chunk")))
	if strings.Contains(text, citationToolName) {
		t.Fatalf("marker leaked into tokens: %q", text)
	}
	if strings.Contains(terminal.Answer.Answer, citationToolName) {
		t.Fatalf("marker leaked into final answer: %q", terminal.Answer.Answer)
	}
}

func TestStreamAnswerTokensRemainValidUTF8(t *testing.T) {
	client := &stubClient{
		streamChunks: []llm.StreamChunk{
			{Content: strings.Repeat("a", 20) + "世界"},
			{Content: "の続き and fourteen more"},
		},
	}
	svc := NewService(client, testLogger())

	events := svc.StreamAnswer(context.Background(), "q", nil, retrievedChunks("chunk"))
	var text strings.Builder
	for ev := range events {
		if ev.Type == EventToken {
			if !utf8.ValidString(ev.Text) {
				t.Fatalf("token carries invalid UTF-8: %q", ev.Text)
			}
			text.WriteString(ev.Text)
		}
	}
	want := strings.Repeat("a", 20) + "世界の続き and fourteen more"
	if text.String() != want {
		t.Fatalf("streamed text = %q, want %q", text.String(), want)
	}
}

func TestStreamAnswerFallbackCitationsWhenToolSilent(t *testing.T) {
	client := &stubClient{
		streamChunks: []llm.StreamChunk{{Content: "The uptime is 99.9%."}},
	}
	svc := NewService(client, testLogger())

	_, terminal := collectEvents(t, svc.StreamAnswer(context.Background(), "q", nil, retrievedChunks("one", "two")))
	if terminal.Type != EventFinal {
		t.Fatalf("terminal = %v", terminal)
	}
	if len(terminal.Answer.Citations) != 2 {
		t.Fatalf("expected fallback citations for both chunks, got %d", len(terminal.Answer.Citations))
	}
}

func TestStreamAnswerEmptyStreamFallsBackToStructured(t *testing.T) {
	client := &stubClient{
		streamChunks:  nil,
		structuredOut: `{"answer":"Recovered answer.","citations":[]}`,
	}
	svc := NewService(client, testLogger())

	text, terminal := collectEvents(t, svc.StreamAnswer(context.Background(), "q", nil, retrievedChunks("chunk")))
	if text != "" {
		t.Fatalf("expected no tokens, got %q", text)
	}
	if terminal.Type != EventFinal || terminal.Answer.Answer != "Recovered answer." {
		t.Fatalf("terminal = %+v", terminal)
	}
}

func TestStreamAnswerErrorWithNoTextIsTerminalError(t *testing.T) {
	client := &stubClient{streamErr: errors.New("rate limited")}
	svc := NewService(client, testLogger())

	text, terminal := collectEvents(t, svc.StreamAnswer(context.Background(), "q", nil, nil))
	if text != "" {
		t.Fatalf("expected no tokens, got %q", text)
	}
	if terminal.Type != EventError || terminal.Err == nil {
		t.Fatalf("terminal = %+v", terminal)
	}
}

func TestStreamAnswerErrorWithPartialTextFinalizes(t *testing.T) {
	client := &stubClient{
		streamChunks: []llm.StreamChunk{{Content: "partial answer that is long enough to survive the guard holdback"}},
		streamErr:    errors.New("connection reset"),
	}
	svc := NewService(client, testLogger())

	_, terminal := collectEvents(t, svc.StreamAnswer(context.Background(), "q", nil, retrievedChunks("chunk")))
	if terminal.Type != EventFinal {
		t.Fatalf("expected Final for partial text, got %+v", terminal)
	}
	if !strings.HasPrefix(terminal.Answer.Answer, "partial answer") {
		t.Fatalf("final answer = %q", terminal.Answer.Answer)
	}
	if len(terminal.Answer.Citations) == 0 {
		t.Fatal("expected fallback citations on partial finalization")
	}
}
