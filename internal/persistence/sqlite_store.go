package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmattila/procman/pkg/api"
)

// SQLiteStore implements StateStore and DeadLetterStore on top of SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing the driver,
// e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db *sql.DB
}

var _ StateStore = (*SQLiteStore)(nil)

var _ DeadLetterStore = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS pm_states (
			pm_name TEXT NOT NULL,
			instance_id TEXT NOT NULL,
			status TEXT NOT NULL,
			last_global_position INTEGER NOT NULL,
			commands_emitted INTEGER NOT NULL,
			commands_failed INTEGER NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			custom_state BLOB,
			state_version INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			last_updated_at INTEGER NOT NULL,
			trigger_event_id TEXT NOT NULL DEFAULT '',
			correlation_id TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (pm_name, instance_id)
		);`,
	)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS pm_dead_letters (
			id TEXT PRIMARY KEY,
			pm_name TEXT NOT NULL,
			instance_id TEXT NOT NULL,
			error TEXT NOT NULL,
			attempt_count INTEGER NOT NULL,
			event_id TEXT NOT NULL DEFAULT '',
			event_type TEXT NOT NULL DEFAULT '',
			global_position INTEGER NOT NULL DEFAULT 0,
			correlation_id TEXT NOT NULL DEFAULT '',
			command_type TEXT NOT NULL DEFAULT '',
			command_payload BLOB,
			recorded_at INTEGER NOT NULL
		);`,
	)
	return err
}

func (s *SQLiteStore) LoadState(ctx context.Context, pmName, instanceID string) (*api.ProcessManagerState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT pm_name, instance_id, status, last_global_position,
		       commands_emitted, commands_failed, error_message, custom_state,
		       state_version, created_at, last_updated_at,
		       trigger_event_id, correlation_id
		FROM pm_states
		WHERE pm_name = ? AND instance_id = ?`,
		pmName, instanceID,
	)
	return scanState(row)
}

func (s *SQLiteStore) LoadOrCreateState(ctx context.Context, pmName, instanceID string, opts CreateOptions) (*api.ProcessManagerState, error) {
	now := time.Now().UTC().UnixNano()

	// ON CONFLICT DO NOTHING makes creation idempotent under concurrent
	// callers; the subsequent read returns whichever row won.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pm_states (
			pm_name, instance_id, status, last_global_position,
			commands_emitted, commands_failed, error_message, custom_state,
			state_version, created_at, last_updated_at,
			trigger_event_id, correlation_id
		) VALUES (?, ?, ?, ?, 0, 0, '', NULL, 1, ?, ?, ?, ?)
		ON CONFLICT (pm_name, instance_id) DO NOTHING`,
		pmName,
		instanceID,
		string(api.StatusIdle),
		api.InitialPosition,
		now,
		now,
		opts.TriggerEventID,
		opts.CorrelationID,
	)
	if err != nil {
		return nil, err
	}

	return s.LoadState(ctx, pmName, instanceID)
}

func (s *SQLiteStore) UpdateState(ctx context.Context, pmName, instanceID string, patch StatePatch) error {
	sets := []string{"state_version = state_version + 1", "last_updated_at = ?"}
	args := []any{time.Now().UTC().UnixNano()}

	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.LastGlobalPosition != nil {
		sets = append(sets, "last_global_position = ?")
		args = append(args, *patch.LastGlobalPosition)
	}
	if patch.CommandsEmitted != nil {
		sets = append(sets, "commands_emitted = ?")
		args = append(args, *patch.CommandsEmitted)
	}
	if patch.CommandsFailed != nil {
		sets = append(sets, "commands_failed = ?")
		args = append(args, *patch.CommandsFailed)
	}
	if patch.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *patch.ErrorMessage)
	}
	if patch.CustomState != nil {
		encoded, err := EncodeValue(patch.CustomState)
		if err != nil {
			return err
		}
		sets = append(sets, "custom_state = ?")
		args = append(args, encoded)
	}

	args = append(args, pmName, instanceID)

	res, err := s.db.ExecContext(ctx, `
		UPDATE pm_states
		SET `+strings.Join(sets, ", ")+`
		WHERE pm_name = ? AND instance_id = ?`,
		args...,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStateNotFound
	}

	return nil
}

func (s *SQLiteStore) ListStates(ctx context.Context, filter StateFilter) ([]*api.ProcessManagerState, error) {
	query := `
		SELECT pm_name, instance_id, status, last_global_position,
		       commands_emitted, commands_failed, error_message, custom_state,
		       state_version, created_at, last_updated_at,
		       trigger_event_id, correlation_id
		FROM pm_states`
	var args []any
	var clauses []string

	if filter.ProcessManagerName != "" {
		clauses = append(clauses, "pm_name = ?")
		args = append(args, filter.ProcessManagerName)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}

	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*api.ProcessManagerState

	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return states, nil
}

func (s *SQLiteStore) RecordDeadLetter(ctx context.Context, dl api.DeadLetter) error {
	payload, err := EncodeValue(dl.CommandPayload)
	if err != nil {
		return err
	}

	recordedAt := dl.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pm_dead_letters (
			id, pm_name, instance_id, error, attempt_count,
			event_id, event_type, global_position, correlation_id,
			command_type, command_payload, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		dl.ID,
		dl.ProcessManagerName,
		dl.InstanceID,
		dl.Error,
		dl.AttemptCount,
		dl.EventID,
		dl.EventType,
		dl.GlobalPosition,
		dl.CorrelationID,
		dl.CommandType,
		payload,
		recordedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) ListDeadLetters(ctx context.Context, pmName, instanceID string) ([]api.DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pm_name, instance_id, error, attempt_count,
		       event_id, event_type, global_position, correlation_id,
		       command_type, command_payload, recorded_at
		FROM pm_dead_letters
		WHERE pm_name = ? AND instance_id = ?
		ORDER BY recorded_at, id`,
		pmName, instanceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var letters []api.DeadLetter

	for rows.Next() {
		var dl api.DeadLetter
		var payload []byte
		var recordedAt int64

		if err := rows.Scan(
			&dl.ID, &dl.ProcessManagerName, &dl.InstanceID, &dl.Error, &dl.AttemptCount,
			&dl.EventID, &dl.EventType, &dl.GlobalPosition, &dl.CorrelationID,
			&dl.CommandType, &payload, &recordedAt,
		); err != nil {
			return nil, err
		}

		decoded, err := DecodeValue(payload)
		if err != nil {
			return nil, err
		}
		dl.CommandPayload = decoded
		dl.RecordedAt = time.Unix(0, recordedAt).UTC()

		letters = append(letters, dl)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return letters, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (*api.ProcessManagerState, error) {
	var st api.ProcessManagerState
	var statusStr string
	var customState []byte
	var createdAt, lastUpdatedAt int64

	err := row.Scan(
		&st.ProcessManagerName,
		&st.InstanceID,
		&statusStr,
		&st.LastGlobalPosition,
		&st.CommandsEmitted,
		&st.CommandsFailed,
		&st.ErrorMessage,
		&customState,
		&st.StateVersion,
		&createdAt,
		&lastUpdatedAt,
		&st.TriggerEventID,
		&st.CorrelationID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStateNotFound
		}
		return nil, err
	}

	st.Status = api.Status(statusStr)
	st.CreatedAt = time.Unix(0, createdAt).UTC()
	st.LastUpdatedAt = time.Unix(0, lastUpdatedAt).UTC()

	decoded, err := DecodeValue(customState)
	if err != nil {
		return nil, err
	}
	st.CustomState = decoded

	return &st, nil
}
