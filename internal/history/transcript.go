// Package history keeps the in-memory transcript of one chat session.
// Messages live only for the duration of the process.
package history

import (
	"sync"

	"github.com/google/uuid"

	"github.com/parley-cli/parley/internal/llm"
)

// Transcript is an unbounded, concurrency-safe list of conversation messages
// tagged with a session id for log correlation.
type Transcript struct {
	id uuid.UUID

	mu   sync.Mutex
	msgs []llm.Message
}

func New() *Transcript {
	return &Transcript{id: uuid.New()}
}

// ID returns the session identifier.
func (t *Transcript) ID() uuid.UUID { return t.id }

// Add appends a message to the transcript.
func (t *Transcript) Add(msg llm.Message) {
	t.mu.Lock()
	t.msgs = append(t.msgs, msg)
	t.mu.Unlock()
}

// Messages returns a copy of the transcript in chronological order.
func (t *Transcript) Messages() []llm.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]llm.Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Len returns the number of stored messages.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.msgs)
}

// Clear drops all stored messages but keeps the session id.
func (t *Transcript) Clear() {
	t.mu.Lock()
	t.msgs = nil
	t.mu.Unlock()
}
