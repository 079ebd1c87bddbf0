// Package llm is the orchestration core: it drives an upstream completion
// provider on behalf of many independent sessions, retries rate-limited
// calls with tier fallback, and parses the streamed reasoning/final-payload
// protocol into typed events.
package llm

type EventKind int

const (
	// EventStatus: coarse progress marker ("analyzing", "retrying", ...).
	EventStatus EventKind = iota

	// EventReasoning: one increment of model reasoning text.
	EventReasoning

	// EventContent: one increment of visible answer text.
	EventContent

	// EventFinal: the structured final payload. Emitted exactly once per
	// streaming call; terminates that call's reasoning stream.
	EventFinal

	// EventError: the call failed; Message is already secret-redacted.
	EventError

	// EventDone: end of the event stream.
	EventDone
)

// StreamEvent is the tagged event emitted by streaming calls.
type StreamEvent struct {
	Kind EventKind

	// EventStatus
	Status string

	// EventReasoning / EventContent
	Delta string

	// EventFinal
	Payload  map[string]any
	Fallback bool

	// EventError
	Message string
}

func statusEvent(status string) StreamEvent {
	return StreamEvent{Kind: EventStatus, Status: status}
}

func reasoningEvent(delta string) StreamEvent {
	return StreamEvent{Kind: EventReasoning, Delta: delta}
}

func contentEvent(delta string) StreamEvent {
	return StreamEvent{Kind: EventContent, Delta: delta}
}

func finalEvent(payload map[string]any, fallback bool) StreamEvent {
	return StreamEvent{Kind: EventFinal, Payload: payload, Fallback: fallback}
}

func errorEvent(message string) StreamEvent {
	return StreamEvent{Kind: EventError, Message: message}
}

func doneEvent() StreamEvent {
	return StreamEvent{Kind: EventDone}
}
