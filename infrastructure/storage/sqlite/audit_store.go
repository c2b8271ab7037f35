package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/felixgeelhaar/apl/domain/capability"
)

// AuditStore records capability decisions as they happen, so the trail of
// a run that crashed mid-way is still available.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore creates a new SQLite audit store.
func NewAuditStore(cfg Config, opts ...Option) (*AuditStore, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	s := &AuditStore{db: db}
	if cfg.AutoMigrate {
		if err := s.migrate(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewAuditStoreFromDB creates an audit store from an existing connection.
func NewAuditStoreFromDB(db *sql.DB) (*AuditStore, error) {
	s := &AuditStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *AuditStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS capability_audit (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			capability TEXT NOT NULL,
			allowed INTEGER NOT NULL,
			reason TEXT,
			params TEXT,
			timestamp INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_capability_audit_run_id ON capability_audit(run_id, seq);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return errors.Join(ErrMigrationFailed, err)
	}
	return nil
}

// Record implements capability.AuditSink.
func (s *AuditStore) Record(ctx context.Context, rec capability.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.RunID == "" {
		return capability.ErrInvalidRunID
	}

	var params sql.NullString
	if len(rec.Params) > 0 {
		data, err := json.Marshal(rec.Params)
		if err != nil {
			return err
		}
		params = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO capability_audit (run_id, step_id, capability, allowed, reason, params, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.StepID, rec.Capability, rec.Allowed, rec.Reason, params, rec.Timestamp.UnixNano(),
	)
	return err
}

// Trail returns the records of runID in insertion order.
func (s *AuditStore) Trail(ctx context.Context, runID string) ([]capability.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if runID == "" {
		return nil, capability.ErrInvalidRunID
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT step_id, capability, allowed, reason, params, timestamp
		 FROM capability_audit WHERE run_id = ? ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []capability.AuditRecord
	for rows.Next() {
		rec := capability.AuditRecord{RunID: runID}
		var reason, params sql.NullString
		var ts int64
		if err := rows.Scan(&rec.StepID, &rec.Capability, &rec.Allowed, &reason, &params, &ts); err != nil {
			return nil, err
		}
		rec.Reason = reason.String
		rec.Timestamp = time.Unix(0, ts).UTC()
		if params.Valid {
			if err := json.Unmarshal([]byte(params.String), &rec.Params); err != nil {
				return nil, err
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *AuditStore) Close() error {
	return s.db.Close()
}

var _ capability.AuditStore = (*AuditStore)(nil)
