package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/felixgeelhaar/apl/domain/capability"
	"github.com/felixgeelhaar/apl/infrastructure/storage/sqlite"
)

func TestAuditStore_RecordAndTrail(t *testing.T) {
	s, err := sqlite.NewAuditStore(testConfig(t))
	if err != nil {
		t.Fatalf("NewAuditStore() error = %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	m := capability.NewManager("run-1",
		capability.WithClock(func() time.Time { return t0 }),
		capability.WithAuditSink(s),
	)
	m.Grant(capability.Manifest{"payments": capability.Params{"limit": "100"}}, capability.Allowlist{"payments": {Allowed: true}})
	m.Check(ctx, "a.r@3", "payments", capability.Params{"amount": "60"})
	m.Check(ctx, "a.r@4", "payments", capability.Params{"amount": "60"})
	m.Check(ctx, "a.r@5", "storage", nil)
	if err := m.SinkErr(); err != nil {
		t.Fatalf("SinkErr() = %v", err)
	}

	got, err := s.Trail(ctx, "run-1")
	if err != nil {
		t.Fatalf("Trail() error = %v", err)
	}
	want := m.Trail()
	if len(got) != len(want) {
		t.Fatalf("Trail() length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].StepID != want[i].StepID || got[i].Allowed != want[i].Allowed || got[i].Reason != want[i].Reason {
			t.Errorf("Trail()[%d] = %+v, want %+v", i, got[i], want[i])
		}
		if !got[i].Timestamp.Equal(t0) {
			t.Errorf("Timestamp = %v, want %v", got[i].Timestamp, t0)
		}
	}
	if got[0].Params["limit"] != "100" {
		t.Errorf("Params = %v, want recorded limit", got[0].Params)
	}

	if other, _ := s.Trail(ctx, "run-2"); len(other) != 0 {
		t.Errorf("Trail(run-2) = %v, want empty", other)
	}
	if _, err := s.Trail(ctx, ""); !errors.Is(err, capability.ErrInvalidRunID) {
		t.Errorf("Trail() empty id error = %v, want ErrInvalidRunID", err)
	}
}
