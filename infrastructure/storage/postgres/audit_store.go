package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/apl/domain/capability"
)

// AuditStore writes capability decisions to PostgreSQL as they happen.
type AuditStore struct {
	pool   *pgxpool.Pool
	schema string
}

// NewAuditStore creates a new PostgreSQL audit store.
func NewAuditStore(pool *pgxpool.Pool, schema string) *AuditStore {
	return &AuditStore{
		pool:   pool,
		schema: schemaOrDefault(schema),
	}
}

func (s *AuditStore) tableName() string {
	return fmt.Sprintf("%s.capability_audit", s.schema)
}

// Record implements capability.AuditSink.
func (s *AuditStore) Record(ctx context.Context, rec capability.AuditRecord) error {
	if rec.RunID == "" {
		return capability.ErrInvalidRunID
	}

	var params []byte
	if len(rec.Params) > 0 {
		var err error
		if params, err = json.Marshal(rec.Params); err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (run_id, step_id, capability, allowed, reason, params, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.tableName())
	_, err := s.pool.Exec(ctx, query,
		rec.RunID, rec.StepID, rec.Capability, rec.Allowed, rec.Reason, params, rec.Timestamp,
	)
	return wrapError(err)
}

// Trail returns the records of runID in insertion order.
func (s *AuditStore) Trail(ctx context.Context, runID string) ([]capability.AuditRecord, error) {
	if runID == "" {
		return nil, capability.ErrInvalidRunID
	}

	query := fmt.Sprintf(`
		SELECT step_id, capability, allowed, COALESCE(reason, ''), params, recorded_at
		FROM %s WHERE run_id = $1 ORDER BY seq
	`, s.tableName())
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, wrapError(err)
	}
	defer rows.Close()

	var out []capability.AuditRecord
	for rows.Next() {
		rec := capability.AuditRecord{RunID: runID}
		var params []byte
		var ts time.Time
		if err := rows.Scan(&rec.StepID, &rec.Capability, &rec.Allowed, &rec.Reason, &params, &ts); err != nil {
			return nil, err
		}
		rec.Timestamp = ts.UTC()
		if len(params) > 0 {
			if err := json.Unmarshal(params, &rec.Params); err != nil {
				return nil, fmt.Errorf("unmarshal params: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

var _ capability.AuditStore = (*AuditStore)(nil)
