package queue

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/declanlscott/printdesk-sub004/pkg/pipeline"
)

// SQLiteQueue is a persistent pipeline.Queue backed by SQLite. Messages
// survive restarts; visibility claims are made inside a transaction so a
// message is handed to at most one receiver per visibility window.
type SQLiteQueue struct {
	db           *sql.DB
	maxReceive   int
	pollInterval time.Duration
}

// NewSQLiteQueue initializes the work_items table in the given DB and
// returns a new queue. maxReceive <= 0 uses DefaultMaxReceiveCount.
func NewSQLiteQueue(db *sql.DB, maxReceive int) (*SQLiteQueue, error) {
	if maxReceive <= 0 {
		maxReceive = DefaultMaxReceiveCount
	}
	q := &SQLiteQueue{
		db:           db,
		maxReceive:   maxReceive,
		pollInterval: 20 * time.Millisecond,
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS work_items (
			id TEXT PRIMARY KEY,
			body BLOB NOT NULL,
			receive_count INTEGER NOT NULL DEFAULT 0,
			visible_at INTEGER NOT NULL,
			enqueued_at INTEGER NOT NULL,
			dead INTEGER NOT NULL DEFAULT 0
		);
	`)
	return err
}

// Ensure SQLiteQueue implements pipeline.Queue.
var _ pipeline.Queue = (*SQLiteQueue)(nil)

func (q *SQLiteQueue) SendBatch(ctx context.Context, entries []pipeline.BatchEntry) (pipeline.BatchResult, error) {
	if err := checkBatch(entries); err != nil {
		return pipeline.BatchResult{}, err
	}

	var result pipeline.BatchResult
	now := time.Now().UnixNano()

	for _, e := range entries {
		if failed := checkEntry(e); failed != nil {
			result.Failed = append(result.Failed, *failed)
			continue
		}

		id := uuid.NewString()
		_, err := q.db.ExecContext(ctx, `
			INSERT INTO work_items (id, body, receive_count, visible_at, enqueued_at, dead)
			VALUES (?, ?, 0, ?, ?, 0)`,
			id, e.Body, now, now,
		)
		if err != nil {
			// A storage error on one entry does not poison the batch.
			result.Failed = append(result.Failed, pipeline.FailedEntry{
				ID:      e.ID,
				Code:    "InternalError",
				Message: err.Error(),
			})
			continue
		}
		result.Sent = append(result.Sent, pipeline.SentEntry{ID: e.ID, MessageID: id})
	}

	return result, nil
}

func (q *SQLiteQueue) Receive(ctx context.Context, max int, visibility time.Duration) ([]pipeline.Message, error) {
	if max <= 0 {
		max = 1
	}

	for {
		msgs, err := q.receiveOnce(ctx, max, visibility)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *SQLiteQueue) receiveOnce(ctx context.Context, max int, visibility time.Duration) ([]pipeline.Message, error) {
	now := time.Now()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, body, receive_count
		FROM work_items
		WHERE dead = 0 AND visible_at <= ?
		ORDER BY enqueued_at, id
		LIMIT ?`, now.UnixNano(), max)
	if err != nil {
		return nil, err
	}

	type claimed struct {
		id           string
		body         []byte
		receiveCount int
	}
	var candidates []claimed
	for rows.Next() {
		var c claimed
		if err := rows.Scan(&c.id, &c.body, &c.receiveCount); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	var out []pipeline.Message
	for _, c := range candidates {
		count := c.receiveCount + 1
		if count > q.maxReceive {
			if _, err := tx.ExecContext(ctx, `
				UPDATE work_items SET dead = 1, receive_count = ? WHERE id = ?`,
				count, c.id); err != nil {
				return nil, err
			}
			continue
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE work_items SET receive_count = ?, visible_at = ? WHERE id = ?`,
			count, now.Add(visibility).UnixNano(), c.id); err != nil {
			return nil, err
		}
		out = append(out, pipeline.Message{ID: c.id, Body: c.body, ReceiveCount: count})
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (q *SQLiteQueue) Delete(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM work_items WHERE id = ? AND dead = 0`, id)
	return err
}

func (q *SQLiteQueue) DeadLetters(ctx context.Context) ([]pipeline.Message, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, body, receive_count FROM work_items WHERE dead = 1 ORDER BY enqueued_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pipeline.Message
	for rows.Next() {
		var m pipeline.Message
		if err := rows.Scan(&m.ID, &m.Body, &m.ReceiveCount); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (q *SQLiteQueue) Len() int {
	var n int
	err := q.db.QueryRow(`
		SELECT COUNT(*) FROM work_items WHERE dead = 0 AND visible_at <= ?`,
		time.Now().UnixNano()).Scan(&n)
	if err != nil {
		return 0
	}
	return n
}
