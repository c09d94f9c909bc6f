package history

import (
	"context"

	"poold/internal/eventbus"
	"poold/internal/pool"
	logx "poold/pkg/logx"
)

// Recorder subscribes to pool task events and appends them to a Store.
// It is the only writer, so store backends never see concurrent appends
// from the pool side.
type Recorder struct {
	bus   eventbus.Bus
	store Store
	log   logx.Logger
}

func NewRecorder(bus eventbus.Bus, store Store, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{bus: bus, store: store, log: log}
}

// Run consumes events until ctx is cancelled. Append failures are logged and
// skipped; history is an observability aid, not a source of truth.
func (r *Recorder) Run(ctx context.Context) error {
	ch, unsub := r.bus.Subscribe(128)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			rec, ok := recordFrom(ev)
			if !ok {
				continue
			}
			if err := r.store.Append(ctx, rec); err != nil {
				r.log.Warn("history append failed",
					logx.Uint64("task", rec.TaskID),
					logx.Err(err),
				)
			}
		}
	}
}

func recordFrom(ev eventbus.Event) (Record, bool) {
	switch ev.Type {
	case eventbus.TypeTaskCompleted, eventbus.TypeTaskFailed,
		eventbus.TypeTaskRetried, eventbus.TypeTaskExpired:
	default:
		return Record{}, false
	}
	te, ok := ev.Data.(pool.TaskEvent)
	if !ok {
		return Record{}, false
	}
	return Record{
		At:       ev.Time,
		TaskID:   te.TaskID,
		Status:   statusFrom(ev.Type),
		Priority: te.Priority,
		WorkerID: te.WorkerID,
		Attempts: te.Attempts,
		TookMS:   te.Duration.Milliseconds(),
		Error:    te.Error,
	}, true
}

func statusFrom(typ string) string {
	switch typ {
	case eventbus.TypeTaskCompleted:
		return "completed"
	case eventbus.TypeTaskFailed:
		return "failed"
	case eventbus.TypeTaskRetried:
		return "retried"
	case eventbus.TypeTaskExpired:
		return "expired"
	default:
		return typ
	}
}
