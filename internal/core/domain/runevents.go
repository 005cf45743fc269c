package domain

// RunEvent is one raw event emitted by the agent-execution engine during a run.
// The variants below are the only implementations; consumers switch on the
// concrete type and treat anything they don't recognize as "nothing to do".
type RunEvent interface {
	runEvent()
}

// AgentRef names an agent as reported by the engine.
type AgentRef struct {
	Name string `json:"name"`
}

// AgentUpdatedEvent is emitted when the engine starts running an agent,
// initially and after every handoff.
type AgentUpdatedEvent struct {
	NewAgent AgentRef `json:"new_agent"`
}

// RawResponseEvent wraps a low-level fragment of the model response stream.
type RawResponseEvent struct {
	Data ResponseFragment `json:"data"`
}

// Response fragment sub-kinds. Only FragmentOutputTextDelta carries an
// incremental text token.
const (
	FragmentOutputTextDelta    = "response.output_text.delta"
	FragmentFunctionArgsDelta  = "response.function_call_arguments.delta"
	FragmentOutputItemAdded    = "response.output_item.added"
	FragmentOutputItemDone     = "response.output_item.done"
	FragmentResponseCreated    = "response.created"
	FragmentResponseCompleted  = "response.completed"
	FragmentReasoningTextDelta = "response.reasoning_text.delta"
)

// ResponseFragment is a single low-level response stream fragment.
type ResponseFragment struct {
	Type  string `json:"type"`
	Delta string `json:"delta,omitempty"`
}

// Run item names as emitted by the engine.
const (
	RunItemHandoffOccurred = "handoff_occurred"
	// RunItemHandoffOccured is the spelling used by the OpenAI Agents SDK.
	RunItemHandoffOccured       = "handoff_occured"
	RunItemHandoffRequested     = "handoff_requested"
	RunItemMessageOutputCreated = "message_output_created"
	RunItemToolCalled           = "tool_called"
	RunItemToolOutput           = "tool_output"
	RunItemReasoningCreated     = "reasoning_item_created"
)

// RunItemEvent carries a completed run item, tagged by Name.
type RunItemEvent struct {
	Name string  `json:"name"`
	Item RunItem `json:"item"`
}

// RunItem is the payload of a RunItemEvent.
type RunItem interface {
	runItem()
}

// HandoffItem describes a completed transfer of control between agents.
type HandoffItem struct {
	SourceAgent AgentRef `json:"source_agent"`
	TargetAgent AgentRef `json:"target_agent"`
}

// MessageOutputItem is a finalized assistant message.
type MessageOutputItem struct {
	Agent   AgentRef       `json:"agent"`
	Content []ContentBlock `json:"content"`
}

// Content block types found in MessageOutputItem.Content.
const (
	ContentTypeOutputText = "output_text"
	ContentTypeText       = "text"
	ContentTypeRefusal    = "refusal"
)

// ContentBlock is one block of a message output.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolCallItem is a tool invocation issued by an agent.
type ToolCallItem struct {
	Agent     AgentRef `json:"agent"`
	Name      string   `json:"name"`
	CallID    string   `json:"call_id"`
	Arguments string   `json:"arguments"`
}

// ToolOutputItem is the result of a tool invocation. RawItem mirrors the
// engine's loosely typed payload; "call_id" and "output" may be missing.
type ToolOutputItem struct {
	Agent   AgentRef       `json:"agent"`
	RawItem map[string]any `json:"raw_item"`
}

func (AgentUpdatedEvent) runEvent() {}
func (RawResponseEvent) runEvent()  {}
func (RunItemEvent) runEvent()      {}

func (HandoffItem) runItem()       {}
func (MessageOutputItem) runItem() {}
func (ToolCallItem) runItem()      {}
func (ToolOutputItem) runItem()    {}
