package history

import (
	"context"
	"sync"
	"testing"
	"time"

	"poold/internal/eventbus"
	"poold/internal/pool"
	logx "poold/pkg/logx"
)

type memStore struct {
	mu   sync.Mutex
	recs []Record
}

func (m *memStore) Append(ctx context.Context, r Record) error {
	m.mu.Lock()
	m.recs = append(m.recs, r)
	m.mu.Unlock()
	return nil
}

func (m *memStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.recs))
	copy(out, m.recs)
	return out, nil
}

func (m *memStore) Close() error { return nil }

func TestRecorderMapsTaskEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	store := &memStore{}
	rec := NewRecorder(bus, store, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rec.Run(ctx)
	}()

	// Let the subscription register before publishing.
	time.Sleep(20 * time.Millisecond)

	bus.Publish(eventbus.Event{
		Type: eventbus.TypeTaskCompleted,
		Data: pool.TaskEvent{TaskID: 7, Priority: "high", WorkerID: 2, Duration: 1500 * time.Millisecond, Attempts: 1},
	})
	bus.Publish(eventbus.Event{
		Type: eventbus.TypeTaskFailed,
		Data: pool.TaskEvent{TaskID: 8, Priority: "low", Attempts: 3, Error: "boom"},
	})
	// Non-task events are ignored.
	bus.Publish(eventbus.Event{Type: eventbus.TypeWorkerStarted, Data: pool.WorkerEvent{WorkerID: 1}})

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := store.Recent(context.Background(), 0)
		if len(got) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("recorded %d records, want 2", len(got))
		}
		time.Sleep(5 * time.Millisecond)
	}

	got, _ := store.Recent(context.Background(), 0)
	if got[0].TaskID != 7 || got[0].Status != "completed" || got[0].TookMS != 1500 {
		t.Fatalf("first record = %+v", got[0])
	}
	if got[1].TaskID != 8 || got[1].Status != "failed" || got[1].Error != "boom" {
		t.Fatalf("second record = %+v", got[1])
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop on cancel")
	}
}
