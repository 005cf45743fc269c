// Package openai implements ports.Engine on the OpenAI Chat Completions API.
// It runs the agent loop (model turn, tool calls, handoffs) and reports
// progress as raw run events.
package openai

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/tjfontaine/agentstream/internal/agents"
	"github.com/tjfontaine/agentstream/internal/core/domain"
	"github.com/tjfontaine/agentstream/internal/core/ports"
)

// ErrMaxTurns is yielded when the agent loop does not finish within MaxTurns.
var ErrMaxTurns = errors.New("engine: max turns exceeded")

// Options configure the engine.
type Options struct {
	APIKey  string
	BaseURL string
	// Model is used for agents that do not name their own.
	Model    string
	MaxTurns int
	Logger   *slog.Logger
}

// Engine runs agents from a roster against an OpenAI-compatible endpoint.
type Engine struct {
	client *openai.Client
	roster *agents.Registry
	opts   Options
}

var _ ports.Engine = (*Engine)(nil)

// New creates an engine using the official client. APIKey and BaseURL are
// optional; the client falls back to OPENAI_API_KEY and the public endpoint.
func New(roster *agents.Registry, opts Options, reqOpts ...option.RequestOption) *Engine {
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	clientOpts = append(clientOpts, reqOpts...)
	client := openai.NewClient(clientOpts...)
	return NewFromClient(&client, roster, opts)
}

// NewFromClient creates an engine from an existing client.
func NewFromClient(client *openai.Client, roster *agents.Registry, opts Options) *Engine {
	if opts.Model == "" {
		opts.Model = openai.ChatModelGPT4oMini
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 10
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{client: client, roster: roster, opts: opts}
}

// aggCall aggregates streamed tool call deltas by index.
type aggCall struct{ id, name, args string }

// turn is the outcome of one streamed model call.
type turn struct {
	text  string
	calls []aggCall
}

// Run streams one run. The first event is always the starting agent.
func (e *Engine) Run(ctx context.Context, in *ports.RunInput) iter.Seq2[domain.RunEvent, error] {
	return func(yield func(domain.RunEvent, error) bool) {
		agent, ok := e.roster.Get(e.roster.Resolve(in.Agent))
		if !ok {
			yield(nil, fmt.Errorf("engine: no agent for %q", in.Agent))
			return
		}
		if !yield(domain.AgentUpdatedEvent{NewAgent: domain.AgentRef{Name: agent.Name}}, nil) {
			return
		}

		history := buildHistory(in.History)

		for n := 0; n < e.opts.MaxTurns; n++ {
			params := e.buildParams(agent, history)

			t, ok := e.stream(ctx, params, yield)
			if !ok {
				return
			}

			if t.text != "" {
				item := domain.MessageOutputItem{
					Agent:   domain.AgentRef{Name: agent.Name},
					Content: []domain.ContentBlock{{Type: domain.ContentTypeOutputText, Text: t.text}},
				}
				if !yield(domain.RunItemEvent{Name: domain.RunItemMessageOutputCreated, Item: item}, nil) {
					return
				}
			}
			if len(t.calls) == 0 {
				return
			}

			history = append(history, assistantToolCalls(t.text, t.calls))

			next := agent
			for _, call := range t.calls {
				if target, ok := agent.HandoffTarget(call.name); ok && next == agent {
					// agent may predate a roster reload that dropped target.
					to, found := e.roster.Get(target)
					if !found {
						output := fmt.Sprintf("Error: agent %s is not available", target)
						history = append(history, openai.ToolMessage(output, call.id))
						if !yieldTool(agent, call, output, yield) {
							return
						}
						continue
					}
					history = append(history, openai.ToolMessage(fmt.Sprintf(`{"assistant": %q}`, to.Name), call.id))
					if !e.handoff(agent, to, yield) {
						return
					}
					next = to
					continue
				}

				output := e.callTool(ctx, agent, call, in.Context)
				history = append(history, openai.ToolMessage(output, call.id))
				if !yieldTool(agent, call, output, yield) {
					return
				}
			}
			agent = next
		}

		yield(nil, ErrMaxTurns)
	}
}

// stream performs one model call, yielding text deltas as they arrive.
func (e *Engine) stream(ctx context.Context, params openai.ChatCompletionNewParams, yield func(domain.RunEvent, error) bool) (turn, bool) {
	stream := e.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var text strings.Builder
	calls := map[int64]*aggCall{}

	for stream.Next() {
		chunk := stream.Current()
		for _, ch := range chunk.Choices {
			if ch.Delta.Content != "" {
				text.WriteString(ch.Delta.Content)
				ev := domain.RawResponseEvent{Data: domain.ResponseFragment{
					Type:  domain.FragmentOutputTextDelta,
					Delta: ch.Delta.Content,
				}}
				if !yield(ev, nil) {
					return turn{}, false
				}
			}
			for _, tc := range ch.Delta.ToolCalls {
				ac, ok := calls[tc.Index]
				if !ok {
					ac = &aggCall{}
					calls[tc.Index] = ac
				}
				if tc.ID != "" {
					ac.id = tc.ID
				}
				if tc.Function.Name != "" {
					ac.name = tc.Function.Name
				}
				ac.args += tc.Function.Arguments
			}
		}
	}
	if err := stream.Err(); err != nil {
		yield(nil, fmt.Errorf("openai streaming error: %w", err))
		return turn{}, false
	}

	t := turn{text: text.String()}
	for _, i := range slices.Sorted(maps.Keys(calls)) {
		t.calls = append(t.calls, *calls[i])
	}
	return t, true
}

func (e *Engine) handoff(from, to *agents.Agent, yield func(domain.RunEvent, error) bool) bool {
	e.opts.Logger.Debug("agent handoff",
		slog.String("from", from.Name),
		slog.String("to", to.Name),
	)
	item := domain.HandoffItem{
		SourceAgent: domain.AgentRef{Name: from.Name},
		TargetAgent: domain.AgentRef{Name: to.Name},
	}
	if !yield(domain.RunItemEvent{Name: domain.RunItemHandoffOccured, Item: item}, nil) {
		return false
	}
	return yield(domain.AgentUpdatedEvent{NewAgent: domain.AgentRef{Name: to.Name}}, nil)
}

// callTool runs a tool. Failures are reported to the model as the tool
// output so the run can continue.
func (e *Engine) callTool(ctx context.Context, agent *agents.Agent, call aggCall, rc *domain.RunContext) string {
	tool, ok := agent.Tool(call.name)
	if !ok {
		return fmt.Sprintf("Error: unknown tool %s", call.name)
	}
	out, err := tool.Invoke(ctx, rc, call.args)
	if err != nil {
		e.opts.Logger.Warn("tool call failed",
			slog.String("tool", call.name),
			slog.String("error", err.Error()),
		)
		return "Error: " + err.Error()
	}
	return out
}

func yieldTool(agent *agents.Agent, call aggCall, output string, yield func(domain.RunEvent, error) bool) bool {
	ref := domain.AgentRef{Name: agent.Name}
	called := domain.ToolCallItem{Agent: ref, Name: call.name, CallID: call.id, Arguments: call.args}
	if !yield(domain.RunItemEvent{Name: domain.RunItemToolCalled, Item: called}, nil) {
		return false
	}
	result := domain.ToolOutputItem{Agent: ref, RawItem: map[string]any{
		"type":    "function_call_output",
		"call_id": call.id,
		"output":  output,
	}}
	return yield(domain.RunItemEvent{Name: domain.RunItemToolOutput, Item: result}, nil)
}

func buildHistory(msgs []ports.HistoryMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case domain.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		case domain.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// assistantToolCalls echoes a model turn back into history. text is the
// content the model produced alongside its tool calls, if any.
func assistantToolCalls(text string, calls []aggCall) openai.ChatCompletionMessageParamUnion {
	toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(calls))
	for i, c := range calls {
		toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
			ID:   c.id,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      c.name,
				Arguments: c.args,
			},
		}
	}
	msg := &openai.ChatCompletionAssistantMessageParam{
		Role:      "assistant",
		ToolCalls: toolCalls,
	}
	if text != "" {
		msg.Content.OfString = openai.String(text)
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: msg}
}

// buildParams assembles the request for agent: its instructions as the
// system message, then history, plus its tools and handoff tools.
func (e *Engine) buildParams(agent *agents.Agent, history []openai.ChatCompletionMessageParamUnion) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if agent.Instructions != "" {
		messages = append(messages, openai.SystemMessage(agent.Instructions))
	}
	messages = append(messages, history...)

	model := e.opts.Model
	if agent.Model != "" {
		model = agent.Model
	}
	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    model,
	}

	var tools []openai.ChatCompletionToolParam
	for _, t := range agent.Tools {
		tools = append(tools, toolParam(t.Name, t.Description, t.Parameters))
	}
	for _, h := range agent.Handoffs {
		desc := "Handoff to the " + h + " agent to handle the request."
		if to, ok := e.roster.Get(h); ok && to.Description != "" {
			desc += " " + to.Description
		}
		tools = append(tools, toolParam(agents.HandoffToolName(h), desc, map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}))
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	return params
}

func toolParam(name, description string, schema map[string]any) openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: openai.FunctionDefinitionParam{
			Name:        name,
			Description: openai.String(description),
			Parameters:  schema,
		},
	}
}
