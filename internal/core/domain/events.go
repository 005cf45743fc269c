package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventName is the discriminator written to the "name" field of every
// normalized event on the wire.
type EventName string

const (
	EventAgentChanged   EventName = "AgentChangedEvent"
	EventMessageDelta   EventName = "MessageDeltaEvent"
	EventNewMessage     EventName = "NewMessageEvent"
	EventToolCalled     EventName = "ToolCalledEvent"
	EventToolCallOutput EventName = "ToolCallOutputEvent"
)

// EventNames lists every normalized event kind.
var EventNames = []EventName{
	EventAgentChanged,
	EventMessageDelta,
	EventNewMessage,
	EventToolCalled,
	EventToolCallOutput,
}

// Event is a normalized domain event. The set of implementations is closed;
// these are the only values that cross the delivery boundary.
type Event interface {
	EventName() EventName
	EventTime() time.Time
	event()
}

// EventHeader holds the fields shared by every normalized event.
type EventHeader struct {
	Name      EventName `json:"name"`
	Timestamp Timestamp `json:"timestamp"`
}

func (h EventHeader) EventName() EventName { return h.Name }
func (h EventHeader) EventTime() time.Time { return time.Time(h.Timestamp) }
func (EventHeader) event()                 {}

func newHeader(name EventName, at time.Time) EventHeader {
	return EventHeader{Name: name, Timestamp: Timestamp(at)}
}

// AgentChanged reports that the active agent for the conversation changed,
// either on initial assignment or on a handoff.
type AgentChanged struct {
	EventHeader
	CurrentAgent string `json:"current_agent"`
}

// MessageDelta is an incremental text fragment of an in-progress assistant message.
type MessageDelta struct {
	EventHeader
	Delta string `json:"delta"`
}

// NewMessage is a finalized assistant message. Think is nil when the body
// carried no reasoning segment and is serialized as null.
type NewMessage struct {
	EventHeader
	Content string  `json:"content"`
	Think   *string `json:"think"`
	Agent   string  `json:"agent"`
}

// ToolCalled reports a tool invocation. ToolCallID correlates with a later ToolCallOutput.
type ToolCalled struct {
	EventHeader
	ToolName   string `json:"tool_name"`
	ToolCallID string `json:"tool_call_id"`
	Args       string `json:"args"`
}

// ToolCallOutput is the result of a previously invoked tool.
type ToolCallOutput struct {
	EventHeader
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

func NewAgentChanged(at time.Time, agent string) *AgentChanged {
	return &AgentChanged{EventHeader: newHeader(EventAgentChanged, at), CurrentAgent: agent}
}

func NewMessageDelta(at time.Time, delta string) *MessageDelta {
	return &MessageDelta{EventHeader: newHeader(EventMessageDelta, at), Delta: delta}
}

func NewNewMessage(at time.Time, content string, think *string, agent string) *NewMessage {
	return &NewMessage{EventHeader: newHeader(EventNewMessage, at), Content: content, Think: think, Agent: agent}
}

func NewToolCalled(at time.Time, toolName, toolCallID, args string) *ToolCalled {
	return &ToolCalled{EventHeader: newHeader(EventToolCalled, at), ToolName: toolName, ToolCallID: toolCallID, Args: args}
}

func NewToolCallOutput(at time.Time, callID, output string) *ToolCallOutput {
	return &ToolCallOutput{EventHeader: newHeader(EventToolCallOutput, at), CallID: callID, Output: output}
}

// EncodeEvent renders an event as one NDJSON record, newline included.
func EncodeEvent(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("encode event: nil event")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.EventName(), err)
	}
	return append(data, '\n'), nil
}

// DecodeEvent parses one NDJSON record back into its concrete event type.
func DecodeEvent(line []byte) (Event, error) {
	var header EventHeader
	if err := json.Unmarshal(line, &header); err != nil {
		return nil, fmt.Errorf("decode event header: %w", err)
	}

	var ev Event
	switch header.Name {
	case EventAgentChanged:
		ev = &AgentChanged{}
	case EventMessageDelta:
		ev = &MessageDelta{}
	case EventNewMessage:
		ev = &NewMessage{}
	case EventToolCalled:
		ev = &ToolCalled{}
	case EventToolCallOutput:
		ev = &ToolCallOutput{}
	default:
		return nil, fmt.Errorf("decode event: unknown name %q", header.Name)
	}

	if err := json.Unmarshal(line, ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", header.Name, err)
	}
	return ev, nil
}

// Timestamp marshals as fractional seconds since the Unix epoch.
type Timestamp time.Time

func (t Timestamp) MarshalJSON() ([]byte, error) {
	tt := time.Time(t)
	secs := float64(tt.Unix()) + float64(tt.Nanosecond())/float64(time.Second)
	return json.Marshal(secs)
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return err
	}
	*t = Timestamp(time.Unix(0, int64(secs*float64(time.Second))))
	return nil
}
