package memory

import (
	"context"
	"sync"

	"github.com/felixgeelhaar/apl/domain/capability"
)

// AuditStore keeps capability decisions in memory and fans them out to
// subscribers of the run they belong to.
type AuditStore struct {
	mu          sync.RWMutex
	trails      map[string][]capability.AuditRecord
	subscribers map[string][]chan capability.AuditRecord
}

// NewAuditStore creates an empty audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{
		trails:      make(map[string][]capability.AuditRecord),
		subscribers: make(map[string][]chan capability.AuditRecord),
	}
}

// Record implements capability.AuditSink.
func (s *AuditStore) Record(ctx context.Context, rec capability.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.RunID == "" {
		return capability.ErrInvalidRunID
	}

	rec.Params = rec.Params.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.trails[rec.RunID] = append(s.trails[rec.RunID], rec)
	for _, sub := range s.subscribers[rec.RunID] {
		select {
		case sub <- rec:
		default:
			// slow subscriber, drop
		}
	}
	return nil
}

// Trail returns a copy of the records of runID.
func (s *AuditStore) Trail(ctx context.Context, runID string) ([]capability.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if runID == "" {
		return nil, capability.ErrInvalidRunID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	trail := s.trails[runID]
	out := make([]capability.AuditRecord, len(trail))
	copy(out, trail)
	return out, nil
}

// Subscribe returns a channel receiving new records of runID until ctx is
// done, at which point the channel is closed.
func (s *AuditStore) Subscribe(ctx context.Context, runID string) (<-chan capability.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan capability.AuditRecord, 100)
	s.subscribers[runID] = append(s.subscribers[runID], ch)

	go func() {
		<-ctx.Done()
		s.unsubscribe(runID, ch)
	}()
	return ch, nil
}

func (s *AuditStore) unsubscribe(runID string, ch chan capability.AuditRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subscribers[runID]
	for i, sub := range subs {
		if sub == ch {
			s.subscribers[runID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}
	if len(s.subscribers[runID]) == 0 {
		delete(s.subscribers, runID)
	}
}

var _ capability.AuditStore = (*AuditStore)(nil)
