package postgres

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/apl/domain/expr"
	"github.com/felixgeelhaar/apl/domain/run"
)

// uniqueViolation is the SQLSTATE of a duplicate key.
const uniqueViolation = "23505"

// RunStore is a PostgreSQL-backed implementation of run.Store.
type RunStore struct {
	pool   *pgxpool.Pool
	schema string
}

// NewRunStore creates a new PostgreSQL run store.
func NewRunStore(pool *pgxpool.Pool, schema string) *RunStore {
	return &RunStore{
		pool:   pool,
		schema: schemaOrDefault(schema),
	}
}

func (s *RunStore) tableName() string {
	return fmt.Sprintf("%s.runs", s.schema)
}

// Save persists a finished run.
func (s *RunStore) Save(ctx context.Context, r *run.Run) error {
	if r.ID == "" {
		return run.ErrInvalidRunID
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	var endTime *time.Time
	if !r.EndTime.IsZero() {
		endTime = &r.EndTime
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, routine, ir_hash, mode, state, error, data, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, s.tableName())

	_, err = s.pool.Exec(ctx, query,
		r.ID, r.Routine, r.IRHash, string(r.Mode), string(r.State), r.Error,
		data, r.StartTime, endTime,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return run.ErrRunExists
		}
		return s.wrapError(err)
	}
	return nil
}

// Get retrieves a run by ID.
func (s *RunStore) Get(ctx context.Context, id string) (*run.Run, error) {
	if id == "" {
		return nil, run.ErrInvalidRunID
	}

	query := fmt.Sprintf(`SELECT data FROM %s WHERE id = $1`, s.tableName())

	var data []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, run.ErrRunNotFound
	}
	if err != nil {
		return nil, s.wrapError(err)
	}
	return decodeRun(data)
}

// Delete removes a run by ID.
func (s *RunStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return run.ErrInvalidRunID
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.tableName())
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return s.wrapError(err)
	}
	if tag.RowsAffected() == 0 {
		return run.ErrRunNotFound
	}
	return nil
}

// List returns runs matching the filter, newest first.
func (s *RunStore) List(ctx context.Context, filter run.ListFilter) ([]*run.Run, error) {
	query, args := s.buildListQuery(filter)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, s.wrapError(err)
	}
	defer rows.Close()

	var runs []*run.Run
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		r, err := decodeRun(data)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Summary returns aggregate statistics.
func (s *RunStore) Summary(ctx context.Context, filter run.ListFilter) (run.Summary, error) {
	where, args := s.buildWhereClause(filter)
	query := fmt.Sprintf(`
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE state = 'completed'),
			COUNT(*) FILTER (WHERE state = 'failed'),
			COALESCE(AVG(EXTRACT(EPOCH FROM (end_time - start_time))) FILTER (WHERE end_time IS NOT NULL), 0)
		FROM %s %s
	`, s.tableName(), where)

	var summary run.Summary
	var avgSeconds float64
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&summary.TotalRuns,
		&summary.CompletedRuns,
		&summary.FailedRuns,
		&avgSeconds,
	)
	if err != nil {
		return run.Summary{}, s.wrapError(err)
	}
	summary.AverageDuration = time.Duration(avgSeconds * float64(time.Second))
	return summary, nil
}

func (s *RunStore) buildListQuery(filter run.ListFilter) (string, []any) {
	where, args := s.buildWhereClause(filter)
	query := fmt.Sprintf(`SELECT data FROM %s %s ORDER BY start_time DESC, id`, s.tableName(), where)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

func (s *RunStore) buildWhereClause(filter run.ListFilter) (string, []any) {
	var conditions []string
	var args []any

	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, st := range filter.States {
			states[i] = string(st)
		}
		args = append(args, states)
		conditions = append(conditions, fmt.Sprintf("state = ANY($%d)", len(args)))
	}
	if filter.IRHash != "" {
		args = append(args, filter.IRHash)
		conditions = append(conditions, fmt.Sprintf("ir_hash = $%d", len(args)))
	}
	if !filter.FromTime.IsZero() {
		args = append(args, filter.FromTime)
		conditions = append(conditions, fmt.Sprintf("start_time >= $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func (s *RunStore) wrapError(err error) error {
	return wrapError(err)
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.Join(run.ErrConnectionFailed, err)
}

func decodeRun(data []byte) (*run.Run, error) {
	var r run.Run
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	if r.Args != nil {
		r.Args, _ = expr.Normalize(r.Args).(map[string]any)
	}
	r.Result = expr.Normalize(r.Result)
	return &r, nil
}

var (
	_ run.Store           = (*RunStore)(nil)
	_ run.SummaryProvider = (*RunStore)(nil)
)
