package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/declanlscott/printdesk-sub004/pkg/pipeline"
)

// MemoryQueue is a pipeline.Queue backed by process memory.
// It is safe for concurrent use and intended for tests and local runs.
type MemoryQueue struct {
	mu           sync.Mutex
	order        []string
	msgs         map[string]*memMessage
	dead         []pipeline.Message
	maxReceive   int
	pollInterval time.Duration
}

type memMessage struct {
	id           string
	body         []byte
	receiveCount int
	visibleAt    time.Time
}

// NewMemoryQueue creates an in-memory queue with the given dead-letter
// receive budget. maxReceive <= 0 uses DefaultMaxReceiveCount.
func NewMemoryQueue(maxReceive int) *MemoryQueue {
	if maxReceive <= 0 {
		maxReceive = DefaultMaxReceiveCount
	}
	return &MemoryQueue{
		msgs:         make(map[string]*memMessage),
		maxReceive:   maxReceive,
		pollInterval: 20 * time.Millisecond,
	}
}

// Ensure MemoryQueue implements pipeline.Queue.
var _ pipeline.Queue = (*MemoryQueue)(nil)

func (q *MemoryQueue) SendBatch(ctx context.Context, entries []pipeline.BatchEntry) (pipeline.BatchResult, error) {
	if err := checkBatch(entries); err != nil {
		return pipeline.BatchResult{}, err
	}

	var result pipeline.BatchResult

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range entries {
		if failed := checkEntry(e); failed != nil {
			result.Failed = append(result.Failed, *failed)
			continue
		}

		id := uuid.NewString()
		body := make([]byte, len(e.Body))
		copy(body, e.Body)

		q.msgs[id] = &memMessage{id: id, body: body}
		q.order = append(q.order, id)
		result.Sent = append(result.Sent, pipeline.SentEntry{ID: e.ID, MessageID: id})
	}

	return result, nil
}

func (q *MemoryQueue) Receive(ctx context.Context, max int, visibility time.Duration) ([]pipeline.Message, error) {
	if max <= 0 {
		max = 1
	}

	for {
		if msgs := q.receiveOnce(max, visibility); len(msgs) > 0 {
			return msgs, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *MemoryQueue) receiveOnce(max int, visibility time.Duration) []pipeline.Message {
	now := time.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	var out []pipeline.Message
	for _, id := range q.order {
		if len(out) >= max {
			break
		}
		m, ok := q.msgs[id]
		if !ok || m.visibleAt.After(now) {
			continue
		}

		m.receiveCount++
		if m.receiveCount > q.maxReceive {
			q.dead = append(q.dead, pipeline.Message{ID: m.id, Body: m.body, ReceiveCount: m.receiveCount})
			delete(q.msgs, id)
			continue
		}

		m.visibleAt = now.Add(visibility)
		out = append(out, pipeline.Message{ID: m.id, Body: m.body, ReceiveCount: m.receiveCount})
	}

	q.compactLocked()
	return out
}

// compactLocked drops deleted ids from the FIFO order slice once it has
// accumulated enough garbage to matter.
func (q *MemoryQueue) compactLocked() {
	if len(q.order) < 64 || len(q.order) < 2*len(q.msgs) {
		return
	}
	kept := q.order[:0]
	for _, id := range q.order {
		if _, ok := q.msgs[id]; ok {
			kept = append(kept, id)
		}
	}
	q.order = kept
}

func (q *MemoryQueue) Delete(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	// Deleting an already-deleted message is a no-op: redelivery races make
	// duplicate deletes normal under at-least-once.
	delete(q.msgs, id)
	return nil
}

func (q *MemoryQueue) DeadLetters(ctx context.Context) ([]pipeline.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]pipeline.Message, len(q.dead))
	copy(out, q.dead)
	return out, nil
}

func (q *MemoryQueue) Len() int {
	now := time.Now()
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, m := range q.msgs {
		if !m.visibleAt.After(now) {
			n++
		}
	}
	return n
}
