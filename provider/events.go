package provider

import (
	"encoding/json"
	"fmt"

	"github.com/tablecraft/voiceorder/errors"
)

// Server event types delivered on the data channel. Each streamed sequence
// (transcript, function-call arguments) is correlated by a provider-issued
// item_id or call_id.
const (
	EventSessionCreated  = "session.created"
	EventSessionUpdated  = "session.updated"
	EventItemCreated     = "conversation.item.created"
	EventTranscriptDelta = "response.audio_transcript.delta"
	EventTranscriptDone  = "response.audio_transcript.done"
	EventFunctionDelta   = "response.function_call_arguments.delta"
	EventFunctionDone    = "response.function_call_arguments.done"
	EventResponseDone    = "response.done"
	EventError           = "error"
)

// ConversationItem is the inner item object on conversation.item.created.
type ConversationItem struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Role   string `json:"role,omitempty"`
	CallID string `json:"call_id,omitempty"`
	Name   string `json:"name,omitempty"`
}

// ErrorDetail carries the provider's structured error payload.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServerEvent is the envelope for every message the provider sends on the
// data channel. Fields are populated per event type; unused fields stay zero.
type ServerEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`

	// Transcript events.
	ItemID     string `json:"item_id,omitempty"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`

	// Function-call events.
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// Item creation.
	Item *ConversationItem `json:"item,omitempty"`

	// Error events.
	Error *ErrorDetail `json:"error,omitempty"`
}

// ParseServerEvent decodes a raw data channel message into a ServerEvent.
// A message that is not valid JSON or has no type is a protocol violation.
func ParseServerEvent(data []byte) (*ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: %v", errors.ErrMalformedEvent, err),
			"provider", "ParseServerEvent", "unmarshal event")
	}
	if ev.Type == "" {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: missing type field", errors.ErrMalformedEvent),
			"provider", "ParseServerEvent", "validate event")
	}
	return &ev, nil
}

// SessionUpdate is the client event configuring the provider session:
// ordering instructions, the serialized menu context, and the tool the model
// calls to add items to the order.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// SessionConfig carries the per-restaurant session configuration.
type SessionConfig struct {
	Instructions string `json:"instructions,omitempty"`
	Tools        []Tool `json:"tools,omitempty"`
}

// Tool declares a function the model may invoke.
type Tool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// NewSessionUpdate builds the session.update client event.
func NewSessionUpdate(instructions string, tools []Tool) *SessionUpdate {
	return &SessionUpdate{
		Type: "session.update",
		Session: SessionConfig{
			Instructions: instructions,
			Tools:        tools,
		},
	}
}

// Encode serializes the client event for the data channel.
func (su *SessionUpdate) Encode() ([]byte, error) {
	data, err := json.Marshal(su)
	if err != nil {
		return nil, errors.WrapInvalid(err, "provider", "Encode", "marshal session update")
	}
	return data, nil
}
