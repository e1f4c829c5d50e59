package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmattila/procman/pkg/api"
)

// PostgresStore implements StateStore and DeadLetterStore on top of
// PostgreSQL via database/sql.
//
// The caller supplies an *sql.DB opened with a PostgreSQL driver of their
// choice; this package deliberately does not import one.
type PostgresStore struct {
	db *sql.DB
}

var _ StateStore = (*PostgresStore)(nil)

var _ DeadLetterStore = (*PostgresStore)(nil)

// NewPostgresStore initializes the required schema in the given database and
// returns a new PostgresStore.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS pm_states (
			pm_name TEXT NOT NULL,
			instance_id TEXT NOT NULL,
			status TEXT NOT NULL,
			last_global_position BIGINT NOT NULL,
			commands_emitted BIGINT NOT NULL,
			commands_failed BIGINT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			custom_state BYTEA,
			state_version BIGINT NOT NULL,
			created_at BIGINT NOT NULL,
			last_updated_at BIGINT NOT NULL,
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
			global_position BIGINT NOT NULL DEFAULT 0,
			correlation_id TEXT NOT NULL DEFAULT '',
			command_type TEXT NOT NULL DEFAULT '',
			command_payload BYTEA,
			recorded_at BIGINT NOT NULL
		);`,
	)
	return err
}

func (s *PostgresStore) LoadState(ctx context.Context, pmName, instanceID string) (*api.ProcessManagerState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT pm_name, instance_id, status, last_global_position,
		       commands_emitted, commands_failed, error_message, custom_state,
		       state_version, created_at, last_updated_at,
		       trigger_event_id, correlation_id
		FROM pm_states
		WHERE pm_name = $1 AND instance_id = $2`,
		pmName, instanceID,
	)
	return scanState(row)
}

func (s *PostgresStore) LoadOrCreateState(ctx context.Context, pmName, instanceID string, opts CreateOptions) (*api.ProcessManagerState, error) {
	now := time.Now().UTC().UnixNano()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pm_states (
			pm_name, instance_id, status, last_global_position,
			commands_emitted, commands_failed, error_message, custom_state,
			state_version, created_at, last_updated_at,
			trigger_event_id, correlation_id
		) VALUES ($1, $2, $3, $4, 0, 0, '', NULL, 1, $5, $6, $7, $8)
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

func (s *PostgresStore) UpdateState(ctx context.Context, pmName, instanceID string, patch StatePatch) error {
	sets := []string{"state_version = state_version + 1", "last_updated_at = $1"}
	args := []any{time.Now().UTC().UnixNano()}

	addSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Status != nil {
		addSet("status", string(*patch.Status))
	}
	if patch.LastGlobalPosition != nil {
		addSet("last_global_position", *patch.LastGlobalPosition)
	}
	if patch.CommandsEmitted != nil {
		addSet("commands_emitted", *patch.CommandsEmitted)
	}
	if patch.CommandsFailed != nil {
		addSet("commands_failed", *patch.CommandsFailed)
	}
	if patch.ErrorMessage != nil {
		addSet("error_message", *patch.ErrorMessage)
	}
	if patch.CustomState != nil {
		encoded, err := EncodeValue(patch.CustomState)
		if err != nil {
			return err
		}
		addSet("custom_state", encoded)
	}

	args = append(args, pmName, instanceID)

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE pm_states
		SET %s
		WHERE pm_name = $%d AND instance_id = $%d`,
		strings.Join(sets, ", "), len(args)-1, len(args)),
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

func (s *PostgresStore) ListStates(ctx context.Context, filter StateFilter) ([]*api.ProcessManagerState, error) {
	query := `
		SELECT pm_name, instance_id, status, last_global_position,
		       commands_emitted, commands_failed, error_message, custom_state,
		       state_version, created_at, last_updated_at,
		       trigger_event_id, correlation_id
		FROM pm_states`
	var args []any
	var clauses []string

	if filter.ProcessManagerName != "" {
		args = append(args, filter.ProcessManagerName)
		clauses = append(clauses, fmt.Sprintf("pm_name = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
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

func (s *PostgresStore) RecordDeadLetter(ctx context.Context, dl api.DeadLetter) error {
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
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
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

func (s *PostgresStore) ListDeadLetters(ctx context.Context, pmName, instanceID string) ([]api.DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pm_name, instance_id, error, attempt_count,
		       event_id, event_type, global_position, correlation_id,
		       command_type, command_payload, recorded_at
		FROM pm_dead_letters
		WHERE pm_name = $1 AND instance_id = $2
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
