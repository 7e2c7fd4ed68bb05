package agent

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/qmuntal/stateless"

	"github.com/parley-cli/parley/internal/llm"
	"github.com/parley-cli/parley/internal/logger"
)

// Turn lifecycle states.
type fsmState stateless.State

var (
	stateReadyToCallLLM fsmState = "ReadyToCallLLM"
	stateExecutingTools fsmState = "ExecutingTools"
	stateDone           fsmState = "Done"
	stateError          fsmState = "Error"
)

type fsmTrigger stateless.Trigger

var (
	triggerProcessInput            fsmTrigger = "ProcessInput"
	triggerLLMRespondedWithContent fsmTrigger = "LLMRespondedWithContent"
	triggerLLMRequestedTools       fsmTrigger = "LLMRequestedTools"
	triggerToolsExecutionCompleted fsmTrigger = "ToolsExecutionCompleted"
	triggerErrorOccurred           fsmTrigger = "ErrorOccurred"
)

// StreamTurn runs one conversation turn. The history must end with the new
// user message; the system prompt is prepended here. Content deltas are
// forwarded to sink in arrival order. When the model requests tools, the
// agent executes them and re-enters the model round, bounded by maxTurns.
// The returned string is the content of the final assistant message.
func (a *Agent) StreamTurn(ctx context.Context, history []llm.Message, sink func(delta string)) (string, error) {
	type turnContext struct {
		messages []llm.Message
		last     llm.Message
		lastErr  error
		round    int
	}
	tc := &turnContext{
		messages: append([]llm.Message{{Role: llm.RoleSystem, Content: a.systemPrompt}}, history...),
	}

	fsm := stateless.NewStateMachine(stateReadyToCallLLM)

	// The initial ProcessInput fire re-enters this state so that its OnEntry
	// action runs; stateless does not run entry actions on machine creation.
	fsm.Configure(stateReadyToCallLLM).
		PermitReentry(triggerProcessInput).
		OnEntry(func(ctx context.Context, _ ...any) error {
			if tc.round >= a.maxTurns {
				tc.lastErr = fmt.Errorf("exceeded maximum of %d interaction turns", a.maxTurns)
				return fsm.FireCtx(ctx, triggerErrorOccurred)
			}
			tc.round++
			logger.L.Debug("model round", "round", tc.round, "messages", len(tc.messages))

			stream, err := a.client.StreamChat(ctx, llm.Request{
				Model:     a.cfg.Model,
				Messages:  tc.messages,
				Tools:     a.tools,
				MaxTokens: a.cfg.MaxTokens,
			})
			if err != nil {
				tc.lastErr = err
				return fsm.FireCtx(ctx, triggerErrorOccurred)
			}
			for {
				delta, recvErr := stream.Recv()
				if errors.Is(recvErr, io.EOF) {
					break
				}
				if recvErr != nil {
					_ = stream.Close()
					tc.lastErr = recvErr
					return fsm.FireCtx(ctx, triggerErrorOccurred)
				}
				if delta != "" && sink != nil {
					sink(delta)
				}
			}
			tc.last = stream.Message()
			_ = stream.Close()

			if len(tc.last.ToolCalls) > 0 {
				return fsm.FireCtx(ctx, triggerLLMRequestedTools)
			}
			return fsm.FireCtx(ctx, triggerLLMRespondedWithContent)
		}).
		Permit(triggerLLMRequestedTools, stateExecutingTools).
		Permit(triggerLLMRespondedWithContent, stateDone).
		Permit(triggerErrorOccurred, stateError)

	fsm.Configure(stateExecutingTools).
		OnEntry(func(ctx context.Context, _ ...any) error {
			tc.messages = append(tc.messages, tc.last)
			for _, call := range tc.last.ToolCalls {
				tc.messages = append(tc.messages, llm.Message{
					Role:       llm.RoleTool,
					Content:    a.executeTool(ctx, call),
					ToolCallID: call.ID,
					Name:       call.Name,
				})
			}
			return fsm.FireCtx(ctx, triggerToolsExecutionCompleted)
		}).
		Permit(triggerToolsExecutionCompleted, stateReadyToCallLLM).
		Permit(triggerErrorOccurred, stateError)

	fsm.Configure(stateError).
		OnEntry(func(_ context.Context, _ ...any) error {
			if tc.lastErr == nil {
				tc.lastErr = errors.New("turn ended in error state without a specific error")
			}
			return nil
		})

	if err := fsm.FireCtx(ctx, triggerProcessInput); err != nil {
		if tc.lastErr != nil {
			return "", tc.lastErr
		}
		return "", fmt.Errorf("turn state machine: %w", err)
	}

	current, err := fsm.State(ctx)
	if err != nil {
		return "", fmt.Errorf("turn state machine: %w", err)
	}
	switch current {
	case stateDone:
		return tc.last.Content, nil
	case stateError:
		return "", tc.lastErr
	default:
		return "", fmt.Errorf("turn ended in unexpected state %v", current)
	}
}
