package provider

import (
	"encoding/json"
	"strings"
)

// EventKind discriminates stream events.
type EventKind int

const (
	// EventMalformed marks an event that could not be decoded or carried
	// no content. Malformed events are skipped by callers; best-effort
	// parsing is the contract, not a fatal condition.
	EventMalformed EventKind = iota

	// EventFragment carries an incremental piece of generated text.
	EventFragment

	// EventDone marks the end-of-stream sentinel.
	EventDone
)

// Event is one decoded stream event.
type Event struct {
	Kind EventKind
	Text string // set for EventFragment
}

// doneSentinel is the literal end-of-stream marker in the provider's
// SSE payload.
const doneSentinel = "[DONE]"

// chunk mirrors the provider's streaming chunk shape:
// {"choices":[{"delta":{"content":"..."}}]}
type chunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// parseLine decodes one line of the provider's SSE body.
//
// Lines without the "data: " prefix (blank keep-alives, comments, field
// names this client does not use) and undecodable or contentless payloads
// all map to EventMalformed so the caller can skip them uniformly.
func parseLine(line string) Event {
	data, found := strings.CutPrefix(line, "data: ")
	if !found {
		return Event{Kind: EventMalformed}
	}

	if strings.TrimSpace(data) == doneSentinel {
		return Event{Kind: EventDone}
	}

	var c chunk
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return Event{Kind: EventMalformed}
	}
	if len(c.Choices) == 0 || c.Choices[0].Delta.Content == "" {
		return Event{Kind: EventMalformed}
	}

	return Event{Kind: EventFragment, Text: c.Choices[0].Delta.Content}
}
