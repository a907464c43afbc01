package offline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueFIFO(t *testing.T) {
	q := NewMemoryQueue()
	for _, typ := range []string{"first", "second", "third"} {
		require.NoError(t, q.Enqueue(Operation{Type: typ}))
	}
	assert.Equal(t, 3, q.Len())

	var seen []string
	require.NoError(t, q.Drain(func(op Operation) error {
		seen = append(seen, op.Type)
		return nil
	}))
	assert.Equal(t, []string{"first", "second", "third"}, seen)
	assert.Zero(t, q.Len())
}

func TestMemoryQueueRejectsEmptyType(t *testing.T) {
	q := NewMemoryQueue()
	require.Error(t, q.Enqueue(Operation{}))
}

func TestMemoryQueueStampsEnqueueTime(t *testing.T) {
	q := NewMemoryQueue()
	require.NoError(t, q.Enqueue(Operation{Type: "op"}))
	require.NoError(t, q.Drain(func(op Operation) error {
		assert.False(t, op.EnqueuedAt.IsZero())
		return nil
	}))
}

func TestMemoryQueueDrainStopsAtFailure(t *testing.T) {
	q := NewMemoryQueue()
	for _, typ := range []string{"ok", "boom", "after"} {
		require.NoError(t, q.Enqueue(Operation{Type: typ}))
	}

	err := q.Drain(func(op Operation) error {
		if op.Type == "boom" {
			return errors.New("backend still down")
		}
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 2, q.Len(), "failed op and everything behind it stay queued")

	// a later drain picks up exactly where it failed
	var seen []string
	require.NoError(t, q.Drain(func(op Operation) error {
		seen = append(seen, op.Type)
		return nil
	}))
	assert.Equal(t, []string{"boom", "after"}, seen)
}

func TestMemoryQueueEnqueueDuringDrain(t *testing.T) {
	q := NewMemoryQueue()
	require.NoError(t, q.Enqueue(Operation{Type: "original"}))

	require.NoError(t, q.Drain(func(op Operation) error {
		if op.Type == "original" {
			return q.Enqueue(Operation{Type: "nested"})
		}
		return nil
	}))
	assert.Equal(t, 1, q.Len(), "ops enqueued mid-drain wait for the next drain")
}
