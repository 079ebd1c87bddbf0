package llm

import (
	"encoding/json"
	"strings"
)

// Stream protocol literals. The model interleaves free-form reasoning lines
// ("Thought ...") with a single machine-readable payload delimited by the
// final markers.
const (
	finalOpenMarker     = "<final>"
	finalCloseMarker    = "</final>"
	reasoningPrefix     = "Thought"
	reasoningSummaryKey = "reasoning_summary"
)

type parserState int

const (
	stateScanning parserState = iota
	stateFinalDetected
	stateCompleted
	stateFallback
)

// FallbackFunc computes the deterministic local payload used when the final
// markers never arrive or the delimited JSON is malformed. It receives the
// full accumulated stream text.
type FallbackFunc func(raw string) map[string]any

// StreamParser consumes a delta sequence and classifies it into reasoning
// events and a delimited final structured payload.
//
// The parser keeps a cumulative buffer across all deltas, so a marker split
// across delta boundaries is still detected. Exactly one final event is
// emitted per parse, and it terminates the reasoning stream.
//
// Known limitation: a payload containing the literal "</final>" inside a
// JSON string value is cut at the first closing marker. No escaping
// convention is defined for the protocol.
type StreamParser struct {
	state    parserState
	buf      strings.Builder
	scanned  int // buffer offset up to which reasoning lines were emitted
	boundary int // start offset of the opening marker, once detected

	reasoning []string // complete reasoning lines, in order
	fallback  FallbackFunc
}

func NewStreamParser(fallback FallbackFunc) *StreamParser {
	if fallback == nil {
		fallback = defaultFallbackPayload
	}
	return &StreamParser{fallback: fallback}
}

// Feed appends one content delta and returns the events it completes.
func (p *StreamParser) Feed(delta string) []StreamEvent {
	if p.done() {
		return nil
	}
	p.buf.WriteString(delta)

	var events []StreamEvent
	s := p.buf.String()

	if p.state == stateScanning {
		if idx := strings.Index(s, finalOpenMarker); idx >= 0 {
			// Freeze the reasoning-region boundary at the marker start and
			// flush the region, including a trailing partial line that can
			// no longer be completed.
			events = append(events, p.flushReasoning(s[p.scanned:idx], true)...)
			p.boundary = idx
			p.state = stateFinalDetected
		} else {
			events = append(events, p.flushReasoning(s[p.scanned:], false)...)
		}
	}

	if p.state == stateFinalDetected {
		payloadStart := p.boundary + len(finalOpenMarker)
		rel := strings.Index(s[payloadStart:], finalCloseMarker)
		if rel >= 0 {
			events = append(events, p.finish(s[payloadStart:payloadStart+rel], s))
		}
	}

	return events
}

// FeedReasoning re-emits a provider-native reasoning delta. These deltas
// arrive out-of-band and bypass the marker state machine entirely.
func (p *StreamParser) FeedReasoning(delta string) []StreamEvent {
	if p.done() || delta == "" {
		return nil
	}
	return []StreamEvent{reasoningEvent(delta)}
}

// Finish handles end-of-stream. If no final payload was produced yet, the
// parser falls back to the locally computed default.
func (p *StreamParser) Finish() []StreamEvent {
	if p.done() {
		return nil
	}

	var events []StreamEvent
	if p.state == stateScanning {
		// A trailing partial reasoning line will never complete now.
		events = append(events, p.flushReasoning(p.buf.String()[p.scanned:], true)...)
	}

	p.state = stateFallback
	payload := p.fallback(p.buf.String())
	p.mergeReasoningSummary(payload)
	return append(events, finalEvent(payload, true))
}

// Completed reports whether a well-formed final payload was parsed.
func (p *StreamParser) Completed() bool { return p.state == stateCompleted }

// Fallback reports whether the parser had to fall back.
func (p *StreamParser) Fallback() bool { return p.state == stateFallback }

func (p *StreamParser) done() bool {
	return p.state == stateCompleted || p.state == stateFallback
}

// flushReasoning splits the not-yet-emitted region on newlines and emits
// each complete line carrying the reasoning prefix, in order. Partial lines
// stay buffered unless flushPartial is set (region frozen or stream over).
func (p *StreamParser) flushReasoning(region string, flushPartial bool) []StreamEvent {
	complete := region
	if !flushPartial {
		lastNL := strings.LastIndexByte(region, '\n')
		if lastNL < 0 {
			return nil
		}
		complete = region[:lastNL+1]
	}
	p.scanned += len(complete)

	var events []StreamEvent
	for _, line := range strings.Split(complete, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, reasoningPrefix) {
			p.reasoning = append(p.reasoning, line)
			events = append(events, reasoningEvent(line))
		}
	}
	return events
}

// finish parses the delimited payload text and produces the final event,
// falling back on malformed JSON.
func (p *StreamParser) finish(payloadText, raw string) StreamEvent {
	var payload map[string]any
	if err := json.Unmarshal([]byte(payloadText), &payload); err != nil || payload == nil {
		p.state = stateFallback
		fb := p.fallback(raw)
		p.mergeReasoningSummary(fb)
		return finalEvent(fb, true)
	}

	p.state = stateCompleted
	p.mergeReasoningSummary(payload)
	return finalEvent(payload, false)
}

// mergeReasoningSummary folds the accumulated reasoning lines into the
// payload unless the model already supplied one.
func (p *StreamParser) mergeReasoningSummary(payload map[string]any) {
	if len(p.reasoning) == 0 {
		return
	}
	if _, ok := payload[reasoningSummaryKey]; ok {
		return
	}
	payload[reasoningSummaryKey] = strings.Join(p.reasoning, "\n")
}

// defaultFallbackPayload wraps the raw stream text so callers still get a
// usable, clearly low-confidence result.
func defaultFallbackPayload(raw string) map[string]any {
	summary := strings.TrimSpace(raw)
	if len(summary) > 2000 {
		summary = summary[:2000]
	}
	if summary == "" {
		summary = "The model returned no usable output."
	}
	return map[string]any{
		"summary":    summary,
		"confidence": "low",
	}
}
