package llm

import (
	"strings"
	"testing"
)

const sampleStream = "Thought 1 > inspect the query\n" +
	"Thought 2 > identify organism and assay\n" +
	`<final>{"intent":"search","keywords":["pancreas","scRNA-seq"]}</final>`

// feedChunked drives a parser with the text split into fixed-size chunks and
// returns every event, including Finish.
func feedChunked(t *testing.T, text string, chunkSize int) []StreamEvent {
	t.Helper()
	p := NewStreamParser(nil)
	var events []StreamEvent
	for i := 0; i < len(text); i += chunkSize {
		end := i + chunkSize
		if end > len(text) {
			end = len(text)
		}
		events = append(events, p.Feed(text[i:end])...)
	}
	events = append(events, p.Finish()...)
	return events
}

func eventKinds(events []StreamEvent) []EventKind {
	kinds := make([]EventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func finalOf(t *testing.T, events []StreamEvent) StreamEvent {
	t.Helper()
	var finals []StreamEvent
	for _, ev := range events {
		if ev.Kind == EventFinal {
			finals = append(finals, ev)
		}
	}
	if len(finals) != 1 {
		t.Fatalf("expected exactly 1 final event, got %d", len(finals))
	}
	return finals[0]
}

func TestParser_ChunkingInvariance(t *testing.T) {
	whole := feedChunked(t, sampleStream, len(sampleStream))

	for _, size := range []int{1, 3, 5, 17} {
		chunked := feedChunked(t, sampleStream, size)

		if len(chunked) != len(whole) {
			t.Fatalf("chunk size %d: got %d events, whole-string feed got %d",
				size, len(chunked), len(whole))
		}
		for i := range whole {
			if chunked[i].Kind != whole[i].Kind || chunked[i].Delta != whole[i].Delta {
				t.Errorf("chunk size %d: event %d = %+v, want %+v",
					size, i, chunked[i], whole[i])
			}
		}

		final := finalOf(t, chunked)
		if final.Fallback {
			t.Errorf("chunk size %d: final unexpectedly marked fallback", size)
		}
		if got := final.Payload["intent"]; got != "search" {
			t.Errorf("chunk size %d: intent = %v, want search", size, got)
		}
	}
}

func TestParser_ReasoningOrderBeforeFinal(t *testing.T) {
	events := feedChunked(t, sampleStream, 4)

	sawFinal := false
	var reasoning []string
	for _, ev := range events {
		switch ev.Kind {
		case EventReasoning:
			if sawFinal {
				t.Fatal("reasoning event after final")
			}
			reasoning = append(reasoning, ev.Delta)
		case EventFinal:
			sawFinal = true
		}
	}

	want := []string{
		"Thought 1 > inspect the query",
		"Thought 2 > identify organism and assay",
	}
	if len(reasoning) != len(want) {
		t.Fatalf("reasoning lines = %v, want %v", reasoning, want)
	}
	for i := range want {
		if reasoning[i] != want[i] {
			t.Errorf("reasoning[%d] = %q, want %q", i, reasoning[i], want[i])
		}
	}
}

func TestParser_NonReasoningLinesSkipped(t *testing.T) {
	text := "Thought 1 > looking\nsome stray chatter\n<final>{\"a\":1}</final>"
	events := feedChunked(t, text, len(text))

	for _, ev := range events {
		if ev.Kind == EventReasoning && ev.Delta == "some stray chatter" {
			t.Error("non-prefixed line emitted as reasoning")
		}
	}
	final := finalOf(t, events)
	if final.Fallback {
		t.Error("well-formed payload marked fallback")
	}
}

func TestParser_MarkerSplitAcrossDeltas(t *testing.T) {
	p := NewStreamParser(nil)
	var events []StreamEvent
	events = append(events, p.Feed("Thought 1 > ok\n<fin")...)
	events = append(events, p.Feed("al>{\"x\":true}</fi")...)
	events = append(events, p.Feed("nal>")...)

	final := finalOf(t, events)
	if final.Fallback {
		t.Error("split marker not recognized")
	}
	if got := final.Payload["x"]; got != true {
		t.Errorf("payload x = %v, want true", got)
	}
	if !p.Completed() {
		t.Error("parser not in completed state")
	}
}

func TestParser_MissingMarkersFallsBack(t *testing.T) {
	p := NewStreamParser(nil)
	var events []StreamEvent
	events = append(events, p.Feed("Thought 1 > hmm\njust prose, no payload")...)
	events = append(events, p.Finish()...)

	final := finalOf(t, events)
	if !final.Fallback {
		t.Fatal("expected fallback final")
	}
	if !p.Fallback() {
		t.Error("parser not in fallback state")
	}
	summary, _ := final.Payload["summary"].(string)
	if !strings.Contains(summary, "just prose") {
		t.Errorf("fallback summary %q does not carry raw text", summary)
	}
	if final.Payload["confidence"] != "low" {
		t.Errorf("confidence = %v, want low", final.Payload["confidence"])
	}
}

func TestParser_MalformedJSONFallsBack(t *testing.T) {
	text := "Thought 1 > ok\n<final>{not json at all</final>"
	events := feedChunked(t, text, len(text))

	final := finalOf(t, events)
	if !final.Fallback {
		t.Fatal("expected fallback final for malformed JSON")
	}
}

func TestParser_TextAfterCloseMarkerIgnored(t *testing.T) {
	p := NewStreamParser(nil)
	events := p.Feed(`<final>{"done":true}</final>`)
	finalOf(t, events)

	if extra := p.Feed("Thought trailing > ignored\n"); extra != nil {
		t.Errorf("events after completion: %+v", extra)
	}
	if extra := p.Finish(); extra != nil {
		t.Errorf("Finish after completion emitted %+v", extra)
	}
}

func TestParser_ReasoningSummaryMerged(t *testing.T) {
	events := feedChunked(t, sampleStream, 7)
	final := finalOf(t, events)

	summary, ok := final.Payload[reasoningSummaryKey].(string)
	if !ok {
		t.Fatal("reasoning summary missing from payload")
	}
	want := "Thought 1 > inspect the query\nThought 2 > identify organism and assay"
	if summary != want {
		t.Errorf("reasoning summary = %q, want %q", summary, want)
	}
}

func TestParser_ModelSuppliedSummaryKept(t *testing.T) {
	text := "Thought 1 > x\n<final>{\"reasoning_summary\":\"model wrote this\"}</final>"
	events := feedChunked(t, text, len(text))

	final := finalOf(t, events)
	if got := final.Payload[reasoningSummaryKey]; got != "model wrote this" {
		t.Errorf("model-supplied summary overwritten: %v", got)
	}
}

func TestParser_FeedReasoningBypassesMarkerMachine(t *testing.T) {
	p := NewStreamParser(nil)

	events := p.FeedReasoning("native thinking text")
	if len(events) != 1 || events[0].Kind != EventReasoning {
		t.Fatalf("FeedReasoning events = %+v", events)
	}
	if events[0].Delta != "native thinking text" {
		t.Errorf("delta = %q", events[0].Delta)
	}

	// Native reasoning never contributes to the merged summary.
	final := finalOf(t, append(p.Feed(`<final>{"a":1}</final>`), p.Finish()...))
	if _, ok := final.Payload[reasoningSummaryKey]; ok {
		t.Error("native reasoning leaked into reasoning summary")
	}
}

func TestParser_CustomFallback(t *testing.T) {
	p := NewStreamParser(func(raw string) map[string]any {
		return map[string]any{"intent": "unknown", "raw_len": len(raw)}
	})
	p.Feed("no structure here")
	events := p.Finish()

	final := finalOf(t, events)
	if final.Payload["intent"] != "unknown" {
		t.Errorf("custom fallback not used: %+v", final.Payload)
	}
}

func TestParser_EmptyStreamFallback(t *testing.T) {
	p := NewStreamParser(nil)
	events := p.Finish()

	final := finalOf(t, events)
	if !final.Fallback {
		t.Fatal("expected fallback for empty stream")
	}
	if final.Payload["summary"] == "" {
		t.Error("empty-stream fallback has empty summary")
	}
}
