package sched

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"poold/internal/pool"
	logx "poold/pkg/logx"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	calls   []submittedCall
	rejectN int // reject the first N submissions
}

type submittedCall struct {
	payload JobPayload
	opt     pool.TaskOptions
}

func (f *fakeSubmitter) ExecuteTask(payload any, opt pool.TaskOptions) (*pool.Future, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectN > 0 {
		f.rejectN--
		return nil, errors.New("rejected")
	}
	f.calls = append(f.calls, submittedCall{payload: payload.(JobPayload), opt: opt})
	return nil, nil
}

func (f *fakeSubmitter) submissions() []submittedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]submittedCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func TestServiceRegistersJobs(t *testing.T) {
	t.Parallel()
	sub := &fakeSubmitter{}
	s := New(Config{
		Enabled: true,
		Jobs: []Job{
			{Name: "hourly-report", Spec: "@hourly", Priority: pool.Low},
			{Name: "ping", Spec: "30s", Priority: pool.High},
		},
	}, sub, logx.Nop())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	snap := s.Snap()
	if len(snap.Jobs) != 2 {
		t.Fatalf("registered %d jobs, want 2", len(snap.Jobs))
	}
	for _, j := range snap.Jobs {
		if j.Next.IsZero() {
			t.Fatalf("job %q has no next fire time", j.Name)
		}
	}
}

func TestServiceStartRejectsBadSpec(t *testing.T) {
	t.Parallel()
	s := New(Config{
		Enabled: true,
		Jobs:    []Job{{Name: "broken", Spec: "not a valid spec at all %%"}},
	}, &fakeSubmitter{}, logx.Nop())

	if err := s.Start(context.Background()); err == nil {
		s.Stop()
		t.Fatal("Start accepted an invalid schedule")
	}
}

func TestServiceFire(t *testing.T) {
	t.Parallel()
	sub := &fakeSubmitter{}
	s := New(Config{Enabled: true}, sub, logx.Nop())

	payload := json.RawMessage(`{"cmd":"backup"}`)
	s.fire(Job{
		Name:     "backup",
		Priority: pool.High,
		Payload:  payload,
		Retries:  -1,
		Timeout:  time.Minute,
	})

	calls := sub.submissions()
	if len(calls) != 1 {
		t.Fatalf("got %d submissions, want 1", len(calls))
	}
	c := calls[0]
	if c.payload.Job != "backup" || string(c.payload.Data) != string(payload) {
		t.Fatalf("payload = %+v", c.payload)
	}
	if c.opt.Priority != pool.High || c.opt.Retries != -1 || c.opt.Timeout != time.Minute {
		t.Fatalf("options = %+v", c.opt)
	}

	submitted, dropped := s.Stats()
	if submitted != 1 || dropped != 0 {
		t.Fatalf("stats = %d/%d, want 1/0", submitted, dropped)
	}
}

func TestServiceFireDropsRejections(t *testing.T) {
	t.Parallel()
	sub := &fakeSubmitter{rejectN: 1}
	s := New(Config{Enabled: true}, sub, logx.Nop())

	s.fire(Job{Name: "j"})
	s.fire(Job{Name: "j"})

	submitted, dropped := s.Stats()
	if submitted != 1 || dropped != 1 {
		t.Fatalf("stats = %d/%d, want 1/1", submitted, dropped)
	}
}

func TestServiceUpsertAndRemove(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, &fakeSubmitter{}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := s.AddJob(Job{Name: "sync", Spec: "10m"}); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	// Upsert replaces the definition under the same name.
	if err := s.AddJob(Job{Name: "sync", Spec: "20m"}); err != nil {
		t.Fatalf("AddJob upsert: %v", err)
	}
	snap := s.Snap()
	if len(snap.Jobs) != 1 {
		t.Fatalf("have %d jobs after upsert, want 1", len(snap.Jobs))
	}
	if snap.Jobs[0].Spec != "20m" {
		t.Fatalf("spec = %q after upsert, want 20m", snap.Jobs[0].Spec)
	}

	if !s.RemoveJob("sync") {
		t.Fatal("RemoveJob reported missing job")
	}
	if s.RemoveJob("sync") {
		t.Fatal("RemoveJob removed twice")
	}
	if err := s.AddJob(Job{Name: "  ", Spec: "10m"}); err == nil {
		t.Fatal("AddJob accepted a blank name")
	}
}

func TestServiceApplySwapsJobs(t *testing.T) {
	t.Parallel()
	s := New(Config{
		Enabled: true,
		Jobs:    []Job{{Name: "old", Spec: "1h"}},
	}, &fakeSubmitter{}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	s.Apply(Config{
		Enabled: true,
		Jobs: []Job{
			{Name: "new-a", Spec: "30m"},
			{Name: "new-b", Spec: "@daily"},
		},
	})

	snap := s.Snap()
	if len(snap.Jobs) != 2 {
		t.Fatalf("have %d jobs after Apply, want 2", len(snap.Jobs))
	}
	names := map[string]bool{}
	for _, j := range snap.Jobs {
		names[j.Name] = true
	}
	if !names["new-a"] || !names["new-b"] || names["old"] {
		t.Fatalf("jobs after Apply = %v", names)
	}
}
