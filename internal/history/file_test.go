package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "poold/pkg/logx"
)

func openTestStore(t *testing.T, cfg Config) Store {
	t.Helper()
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func rec(id uint64, status string) Record {
	return Record{At: time.Now(), TaskID: id, Status: status, Priority: "normal"}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " None "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = (%v, %v), want (nil, nil)", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestFileAppendRecent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.jsonl")
	st := openTestStore(t, Config{Driver: "file", Path: path})
	ctx := context.Background()

	for i := uint64(1); i <= 5; i++ {
		if err := st.Append(ctx, rec(i, "completed")); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}

	got, err := st.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent returned %d records, want 3", len(got))
	}
	// Newest first.
	for i, want := range []uint64{5, 4, 3} {
		if got[i].TaskID != want {
			t.Fatalf("Recent[%d].TaskID = %d, want %d", i, got[i].TaskID, want)
		}
	}

	// limit 0 returns everything retained.
	all, err := st.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent(0): %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("Recent(0) returned %d records, want 5", len(all))
	}
}

func TestFileCapacityBound(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.jsonl")
	st := openTestStore(t, Config{Driver: "file", Path: path, Capacity: 3})
	ctx := context.Background()

	for i := uint64(1); i <= 10; i++ {
		if err := st.Append(ctx, rec(i, "completed")); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := st.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("retained %d records, want 3", len(got))
	}
	if got[0].TaskID != 10 || got[2].TaskID != 8 {
		t.Fatalf("retained wrong tail: %d..%d", got[0].TaskID, got[2].TaskID)
	}
}

func TestFileReplayAcrossReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.jsonl")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := uint64(1); i <= 3; i++ {
		if err := st.Append(ctx, rec(i, "failed")); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate a torn final line from a crash mid-write.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.WriteString(`{"at":"2026-01-01T0`); err != nil {
		t.Fatalf("write torn line: %v", err)
	}
	f.Close()

	st2 := openTestStore(t, Config{Driver: "file", Path: path})
	got, err := st2.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("replayed %d records, want 3", len(got))
	}
	if got[0].TaskID != 3 || got[0].Status != "failed" {
		t.Fatalf("replayed head = %+v", got[0])
	}
}

func TestFileAppendAfterClose(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.jsonl")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	st.Close()
	if err := st.Append(context.Background(), rec(1, "completed")); err == nil {
		t.Fatal("Append after Close should fail")
	}
}
