// Package chat implements the interactive terminal session: prompt, forward,
// stream, repeat until the exit command.
package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/parley-cli/parley/internal/history"
	"github.com/parley-cli/parley/internal/llm"
	"github.com/parley-cli/parley/internal/logger"
)

// ExitCommand terminates the session without sending a request.
const ExitCommand = "exit"

// TurnRunner runs one conversation turn, forwarding streamed deltas to sink.
type TurnRunner interface {
	StreamTurn(ctx context.Context, history []llm.Message, sink func(delta string)) (string, error)
}

// Session is a single interactive chat session over a line-based reader.
type Session struct {
	runner     TurnRunner
	transcript *history.Transcript
	in         io.Reader
	out        io.Writer
	prompt     string
}

func New(runner TurnRunner, transcript *history.Transcript, in io.Reader, out io.Writer, prompt string) *Session {
	if prompt == "" {
		prompt = "You"
	}
	return &Session{
		runner:     runner,
		transcript: transcript,
		in:         in,
		out:        out,
		prompt:     prompt,
	}
}

// Run reads lines until the exit command, EOF, or context cancellation.
// Each non-blank line is forwarded to the model together with the transcript
// so far; the streamed reply is printed as it arrives. A failed turn is
// logged and not committed to the transcript, so the next turn does not
// resend a half-completed exchange.
func (s *Session) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprintf(s.out, "\x1b[94m%s\x1b[0m: ", s.prompt)

		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out)
			return nil
		case line, ok = <-lines:
			if !ok {
				fmt.Fprintln(s.out)
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("read input: %w", err)
				}
				return nil
			}
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == ExitCommand {
			return nil
		}

		if err := s.turn(ctx, input); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			logger.L.Error("turn failed", "session_id", s.transcript.ID(), "error", err)
		}
	}
}

// RunOnce sends a single prompt, streams the reply, and returns.
func (s *Session) RunOnce(ctx context.Context, prompt string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return errors.New("empty prompt")
	}
	return s.turn(ctx, prompt)
}

func (s *Session) turn(ctx context.Context, input string) error {
	user := llm.Message{Role: llm.RoleUser, Content: input}
	reply, err := s.runner.StreamTurn(ctx, append(s.transcript.Messages(), user), func(delta string) {
		fmt.Fprint(s.out, delta)
	})
	fmt.Fprintln(s.out)
	if err != nil {
		return err
	}
	s.transcript.Add(user)
	s.transcript.Add(llm.Message{Role: llm.RoleAssistant, Content: reply})
	return nil
}
