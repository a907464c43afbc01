// Package offline provides the queue collaborator used when the storage
// backend is unreachable. Vault and audit writes are enqueued as operation
// descriptors and replayed once connectivity returns.
package offline

import (
	"fmt"
	"sync"
	"time"
)

// Operation is a queued write awaiting replay. Data carries everything needed
// to repeat the write; for vault content that is ciphertext, never plaintext.
type Operation struct {
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data"`
	EnqueuedAt time.Time              `json:"enqueued_at"`
}

// Queue accepts operation descriptors for deferred replay.
type Queue interface {
	// Enqueue records an operation for later replay.
	Enqueue(op Operation) error

	// Drain invokes fn for each pending operation in FIFO order, removing
	// operations fn handles successfully. The first fn error stops the drain
	// and leaves the failed operation (and everything behind it) queued.
	Drain(fn func(Operation) error) error

	// Len reports the number of pending operations.
	Len() int
}

// Ensure MemoryQueue implements Queue interface
var _ Queue = (*MemoryQueue)(nil)

// MemoryQueue is the in-process Queue implementation. Mobile callers replace
// it with a platform-persistent queue; the contract is identical.
type MemoryQueue struct {
	mu  sync.Mutex
	ops []Operation
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(op Operation) error {
	if op.Type == "" {
		return fmt.Errorf("operation type cannot be empty")
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now().UTC()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = append(q.ops, op)
	return nil
}

func (q *MemoryQueue) Drain(fn func(Operation) error) error {
	q.mu.Lock()
	pending := q.ops
	q.ops = nil
	q.mu.Unlock()

	for i, op := range pending {
		if err := fn(op); err != nil {
			// put back the failed operation and everything after it
			q.mu.Lock()
			q.ops = append(pending[i:], q.ops...)
			q.mu.Unlock()
			return fmt.Errorf("replay of %q failed: %w", op.Type, err)
		}
	}
	return nil
}

func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}
