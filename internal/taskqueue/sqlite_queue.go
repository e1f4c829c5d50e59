package taskqueue

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/gob"
	"errors"
	"time"
)

// SQLiteQueue is a persistent command queue implementation backed by SQLite.
// It is safe for concurrent use for our purposes, using simple FIFO semantics
// based on an auto-incrementing id.
type SQLiteQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewSQLiteQueue initializes the commands table in the given DB and returns a
// new queue.
func NewSQLiteQueue(db *sql.DB) (*SQLiteQueue, error) {
	q := &SQLiteQueue{
		db:           db,
		pollInterval: 20 * time.Millisecond,
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS pm_commands (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			command_type TEXT NOT NULL,
			payload BLOB,
			correlation_id TEXT,
			causation_id TEXT,
			partition_key TEXT,
			enqueued_at INTEGER NOT NULL,
			not_before INTEGER NOT NULL
		);
	`)
	return err
}

// Ensure SQLiteQueue implements Queue.
var _ Queue = (*SQLiteQueue)(nil)

func (q *SQLiteQueue) Enqueue(ctx context.Context, c Command) error {
	payloadBytes, err := encodePayload(c.Payload)
	if err != nil {
		return err
	}

	enqueuedAt := c.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = time.Now()
	}

	var notBefore int64
	if c.NotBefore.IsZero() {
		notBefore = enqueuedAt.UnixNano()
	} else {
		notBefore = c.NotBefore.UnixNano()
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO pm_commands (id, command_type, payload, correlation_id, causation_id, partition_key, enqueued_at, not_before)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.CommandType,
		payloadBytes,
		c.CorrelationID,
		c.CausationID,
		c.PartitionKey,
		enqueuedAt.UnixNano(),
		notBefore,
	)
	return err
}

func (q *SQLiteQueue) Dequeue(ctx context.Context) (*Command, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		now := time.Now().UnixNano()

		tx, err := q.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}

		var (
			seq           int64
			id            string
			commandType   string
			payload       []byte
			correlationID sql.NullString
			causationID   sql.NullString
			partitionKey  sql.NullString
			enqueuedInt   int64
			notBefore     int64
		)

		row := tx.QueryRowContext(ctx, `
			SELECT seq, id, command_type, payload, correlation_id, causation_id, partition_key, enqueued_at, not_before
			FROM pm_commands
			WHERE not_before <= ?
			ORDER BY not_before, seq
			LIMIT 1`, now)
		err = row.Scan(&seq, &id, &commandType, &payload, &correlationID, &causationID, &partitionKey, &enqueuedInt, &notBefore)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				_ = tx.Rollback()
				// Nothing available: sleep a bit and retry.
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(q.pollInterval):
					continue
				}
			}
			_ = tx.Rollback()
			return nil, err
		}

		// Delete the row we just claimed.
		if _, err := tx.ExecContext(ctx, `DELETE FROM pm_commands WHERE seq = ?`, seq); err != nil {
			_ = tx.Rollback()
			return nil, err
		}

		if err := tx.Commit(); err != nil {
			return nil, err
		}

		decoded, err := decodePayload(payload)
		if err != nil {
			return nil, err
		}

		cmd := &Command{
			ID:            id,
			CommandType:   commandType,
			Payload:       decoded,
			CorrelationID: correlationID.String,
			CausationID:   causationID.String,
			PartitionKey:  partitionKey.String,
			EnqueuedAt:    time.Unix(0, enqueuedInt),
			NotBefore:     time.Unix(0, notBefore),
		}

		return cmd, nil
	}
}

func (q *SQLiteQueue) Len() int {
	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM pm_commands`).Scan(&n)
	if err != nil {
		return 0
	}
	return n
}

// encodePayload serializes arbitrary Go values using encoding/gob.
// Callers must ensure that values are gob-encodable and that their concrete
// types have been registered with gob.Register where needed.
func encodePayload(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	var iv = v
	if err := enc.Encode(&iv); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodePayload deserializes gob-encoded data back into an `any`.
func decodePayload(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	dec := gob.NewDecoder(bytes.NewBuffer(data))
	var iv any
	if err := dec.Decode(&iv); err != nil {
		return nil, err
	}
	return iv, nil
}
