// Package llm defines the language-model abstraction the agent executor
// drives: chat completions with tool calling, and text embeddings for
// vector search. Provider-specific wiring lives in openai.go.
package llm

import "context"

// Message roles, matching the chat completion wire format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn in a conversation transcript.
type Message struct {
	Role       string
	Content    string
	Name       string
	ToolCallID string
	ToolCalls  []ToolCall
}

// ToolCall is a model-requested tool invocation. Arguments is the raw
// JSON-encoded argument object as returned by the provider.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Schema describes a tool's parameter object in JSON Schema form.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Property is a single parameter in a tool schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ToolDef declares a tool the model may call.
type ToolDef struct {
	Name        string
	Description string
	Parameters  Schema
}

// Completion is one assistant turn. Either Text is the final answer, or
// ToolCalls lists invocations the caller must execute and report back.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
}

// IsFinal reports whether the turn carries no tool calls, meaning the
// model produced its answer.
func (c Completion) IsFinal() bool {
	return len(c.ToolCalls) == 0
}

// Chat produces assistant turns from a conversation transcript.
type Chat interface {
	// Invoke requests a plain completion with no tools offered.
	Invoke(ctx context.Context, msgs []Message) (Completion, error)
	// InvokeWithTools requests a completion with the given tools offered.
	InvokeWithTools(ctx context.Context, msgs []Message, tools []ToolDef) (Completion, error)
}

// Embedder converts text to dense vectors.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}
