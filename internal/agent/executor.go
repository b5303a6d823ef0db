package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"

	"github.com/starford/ansuz/internal/llm"
)

// TerminationReason reports how an execution ended.
type TerminationReason string

const (
	TerminationFinished      TerminationReason = "finished"
	TerminationMaxIterations TerminationReason = "max_iterations"
	TerminationError         TerminationReason = "error"
)

// maxIterationsFallback is the answer when the bound is hit with no
// assistant text on record.
const maxIterationsFallback = "I reached the maximum number of iterations. Please try a simpler query."

// streamChunkSize is the slice length for answer-level chunked replay.
const streamChunkSize = 50

// ToolCallRecord is one executed tool call in a trace.
type ToolCallRecord struct {
	Iteration int            `json:"iteration"`
	ToolName  string         `json:"tool_name"`
	ToolArgs  map[string]any `json:"tool_args"`
	Result    any            `json:"result"`
	Err       string         `json:"error,omitempty"`
}

// ExecutionResult is the outcome of one agent run.
type ExecutionResult struct {
	Answer               string
	ToolCalls            []ToolCallRecord
	Iterations           int
	Messages             []llm.Message
	Termination          TerminationReason
	MaxIterationsReached bool
	Err                  error
}

// Executor drives the tool-calling loop: invoke the model with the tool
// schema, run requested tools in order, feed results back, repeat until
// the model answers or the iteration bound is hit.
type Executor struct {
	chat          llm.Chat
	registry      *Registry
	maxIterations int
	logger        *slog.Logger
}

// NewExecutor builds an executor. maxIterations values below 1 are
// raised to 1.
func NewExecutor(chat llm.Chat, registry *Registry, maxIterations int, logger *slog.Logger) *Executor {
	if maxIterations < 1 {
		maxIterations = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{chat: chat, registry: registry, maxIterations: maxIterations, logger: logger}
}

// Execute runs the loop for one query. history carries prior turns and
// may be nil. A model invocation failure is fatal to the run; tool
// failures are absorbed as error-shaped results the model can react to.
func (e *Executor) Execute(ctx context.Context, query string, history []llm.Message) ExecutionResult {
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: query})

	var trace []ToolCallRecord
	var lastAssistantText string
	iterations := 0

	for iterations < e.maxIterations {
		iterations++
		e.logger.Debug("agent iteration", "iteration", iterations, "max", e.maxIterations)

		completion, err := e.chat.InvokeWithTools(ctx, messages, e.registry.Definitions())
		if err != nil {
			e.logger.Error("agent llm invocation failed", "error", err)
			return ExecutionResult{
				Answer:      fmt.Sprintf("Error during agent execution: %v", err),
				ToolCalls:   trace,
				Iterations:  iterations,
				Messages:    messages,
				Termination: TerminationError,
				Err:         err,
			}
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   completion.Text,
			ToolCalls: completion.ToolCalls,
		})
		if completion.Text != "" {
			lastAssistantText = completion.Text
		}

		if completion.IsFinal() {
			e.logger.Info("agent completed", "iterations", iterations)
			return ExecutionResult{
				Answer:      completion.Text,
				ToolCalls:   trace,
				Iterations:  iterations,
				Messages:    messages,
				Termination: TerminationFinished,
			}
		}

		for _, call := range completion.ToolCalls {
			args := parseArgs(call.Arguments)
			e.logger.Debug("executing tool", "tool", call.Name, "args", args)

			result, err := e.registry.Execute(ctx, call.Name, args)
			record := ToolCallRecord{
				Iteration: iterations,
				ToolName:  call.Name,
				ToolArgs:  args,
				Result:    result,
			}
			if err != nil {
				e.logger.Error("tool execution failed", "tool", call.Name, "error", err)
				record.Result = map[string]any{"error": err.Error()}
				record.Err = err.Error()
			}
			trace = append(trace, record)
			messages = append(messages, toolMessage(call.ID, call.Name, record.Result))
		}
	}

	e.logger.Warn("agent reached max iterations", "max", e.maxIterations)
	answer := lastAssistantText
	if answer == "" {
		answer = maxIterationsFallback
	}
	return ExecutionResult{
		Answer:               answer,
		ToolCalls:            trace,
		Iterations:           iterations,
		Messages:             messages,
		Termination:          TerminationMaxIterations,
		MaxIterationsReached: true,
	}
}

// StreamExecute runs the loop to completion, then replays the answer in
// fixed-size rune slices. Tool calls never interleave with output.
func (e *Executor) StreamExecute(ctx context.Context, query string, history []llm.Message) iter.Seq[string] {
	return func(yield func(string) bool) {
		result := e.Execute(ctx, query, history)
		runes := []rune(result.Answer)
		for i := 0; i < len(runes); i += streamChunkSize {
			end := min(i+streamChunkSize, len(runes))
			if !yield(string(runes[i:end])) {
				return
			}
		}
	}
}

// parseArgs decodes a tool-call argument payload. Malformed JSON
// degrades to empty arguments rather than aborting the call.
func parseArgs(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

// toolMessage encodes a tool result as a transcript turn. Results that
// fail to marshal are reported to the model as an error payload.
func toolMessage(callID, name string, result any) llm.Message {
	data, err := json.Marshal(result)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	return llm.Message{
		Role:       llm.RoleTool,
		Name:       name,
		ToolCallID: callID,
		Content:    string(data),
	}
}
