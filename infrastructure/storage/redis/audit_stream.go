package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/apl/domain/capability"
)

// AuditStream appends capability decisions to one Redis stream per run,
// so operators can follow a run's checks with XREAD while it executes.
type AuditStream struct {
	client    *redis.Client
	keyPrefix string
	maxLen    int64
}

// NewAuditStream creates an audit stream. maxLen caps each run's stream
// approximately; zero leaves it unbounded.
func NewAuditStream(client *redis.Client, keyPrefix string, maxLen int64) *AuditStream {
	return &AuditStream{client: client, keyPrefix: keyPrefix, maxLen: maxLen}
}

func (s *AuditStream) streamKey(runID string) string {
	return s.keyPrefix + "audit:" + runID
}

// Record implements capability.AuditSink.
func (s *AuditStream) Record(ctx context.Context, rec capability.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.RunID == "" {
		return capability.ErrInvalidRunID
	}
	values, err := encodeAudit(rec)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: s.streamKey(rec.RunID),
		Values: values,
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	return wrapError(s.client.XAdd(ctx, args).Err())
}

// Trail reads the whole stream of runID.
func (s *AuditStream) Trail(ctx context.Context, runID string) ([]capability.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if runID == "" {
		return nil, capability.ErrInvalidRunID
	}
	msgs, err := s.client.XRange(ctx, s.streamKey(runID), "-", "+").Result()
	if err != nil {
		return nil, wrapError(err)
	}
	out := make([]capability.AuditRecord, 0, len(msgs))
	for _, m := range msgs {
		rec, err := decodeAudit(runID, m.Values)
		if err != nil {
			return nil, fmt.Errorf("audit entry %s: %w", m.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func encodeAudit(rec capability.AuditRecord) (map[string]any, error) {
	values := map[string]any{
		"step_id":    rec.StepID,
		"capability": rec.Capability,
		"allowed":    strconv.FormatBool(rec.Allowed),
		"timestamp":  rec.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if rec.Reason != "" {
		values["reason"] = rec.Reason
	}
	if len(rec.Params) > 0 {
		data, err := json.Marshal(rec.Params)
		if err != nil {
			return nil, err
		}
		values["params"] = string(data)
	}
	return values, nil
}

func decodeAudit(runID string, values map[string]any) (capability.AuditRecord, error) {
	str := func(k string) string {
		s, _ := values[k].(string)
		return s
	}
	rec := capability.AuditRecord{
		RunID:      runID,
		StepID:     str("step_id"),
		Capability: str("capability"),
		Reason:     str("reason"),
	}
	allowed, err := strconv.ParseBool(str("allowed"))
	if err != nil {
		return rec, fmt.Errorf("allowed: %w", err)
	}
	rec.Allowed = allowed
	if rec.Timestamp, err = time.Parse(time.RFC3339Nano, str("timestamp")); err != nil {
		return rec, fmt.Errorf("timestamp: %w", err)
	}
	if p := str("params"); p != "" {
		if err := json.Unmarshal([]byte(p), &rec.Params); err != nil {
			return rec, fmt.Errorf("params: %w", err)
		}
	}
	return rec, nil
}

var _ capability.AuditStore = (*AuditStream)(nil)
