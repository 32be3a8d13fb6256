package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeTrailStore struct {
	mu      sync.Mutex
	actions []OperatorAction
	batches int
}

func (f *fakeTrailStore) WriteOperatorActions(_ context.Context, actions []OperatorAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, actions...)
	f.batches++
	return nil
}

func (f *fakeTrailStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.actions)
}

// Stop дожидается финального flush: ни одно событие не теряется на рестарте.
func TestTrailDrainsOnStop(t *testing.T) {
	store := &fakeTrailStore{}
	trail := NewTrail(store, zap.NewNop())
	trail.Start()

	for i := 0; i < 42; i++ {
		trail.Log(OperatorAction{OperatorID: "ops", Action: ActionSuppress, Target: "agent-x"})
	}
	trail.Stop()

	if got := store.count(); got != 42 {
		t.Errorf("stored %d actions, want 42", got)
	}
}

func TestTrailStampsTimestamp(t *testing.T) {
	store := &fakeTrailStore{}
	trail := NewTrail(store, zap.NewNop())
	trail.Start()

	trail.Log(OperatorAction{OperatorID: "ops", Action: ActionRunAudit})
	trail.Stop()

	if store.count() != 1 {
		t.Fatalf("stored %d actions, want 1", store.count())
	}
	if store.actions[0].Timestamp.IsZero() {
		t.Error("timestamp was not stamped on Log")
	}
}

// После Stop новые события отбрасываются, а не пишутся в закрытый канал.
func TestTrailRejectsAfterStop(t *testing.T) {
	store := &fakeTrailStore{}
	trail := NewTrail(store, zap.NewNop())
	trail.Start()
	trail.Stop()

	trail.Log(OperatorAction{OperatorID: "ops", Action: ActionVote, Target: "t-1"})
	time.Sleep(20 * time.Millisecond)

	if got := store.count(); got != 0 {
		t.Errorf("stored %d actions after stop, want 0", got)
	}
}
