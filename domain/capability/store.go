package capability

import (
	"context"
	"errors"
)

// ErrInvalidRunID indicates an audit query without a run ID.
var ErrInvalidRunID = errors.New("invalid run ID")

// AuditStore is a durable AuditSink that can read a run's trail back.
type AuditStore interface {
	AuditSink

	// Trail returns the records of runID in the order they were recorded.
	Trail(ctx context.Context, runID string) ([]AuditRecord, error)
}
