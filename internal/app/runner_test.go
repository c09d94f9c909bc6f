package app

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"poold/internal/sched"
	logx "poold/pkg/logx"
)

func TestRunnerString(t *testing.T) {
	t.Parallel()
	r := newExecRunner(logx.Nop())

	out, err := r.Run(context.Background(), "echo hello")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(out.(string)) != "hello" {
		t.Fatalf("output = %q", out)
	}
}

func TestRunnerCommandSpec(t *testing.T) {
	t.Parallel()
	r := newExecRunner(logx.Nop())

	out, err := r.Run(context.Background(), commandSpec{
		Command: []string{"sh", "-c", "echo $POOLD_TEST_VAR"},
		Env:     []string{"POOLD_TEST_VAR=wired"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(out.(string)) != "wired" {
		t.Fatalf("output = %q", out)
	}
}

func TestRunnerJobPayload(t *testing.T) {
	t.Parallel()
	r := newExecRunner(logx.Nop())

	data, _ := json.Marshal(commandSpec{Command: []string{"echo", "from-job"}})
	out, err := r.Run(context.Background(), sched.JobPayload{Job: "greet", Data: data})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(out.(string)) != "from-job" {
		t.Fatalf("output = %q", out)
	}
}

func TestRunnerFailures(t *testing.T) {
	t.Parallel()
	r := newExecRunner(logx.Nop())
	ctx := context.Background()

	if _, err := r.Run(ctx, 42); err == nil {
		t.Fatal("unsupported payload accepted")
	}
	if _, err := r.Run(ctx, ""); err == nil {
		t.Fatal("empty command accepted")
	}
	if _, err := r.Run(ctx, sched.JobPayload{Job: "no-data"}); err == nil {
		t.Fatal("job without payload accepted")
	}
	if _, err := r.Run(ctx, commandSpec{}); err == nil {
		t.Fatal("empty command spec accepted")
	}

	// Non-zero exit returns both the captured output and the error.
	out, err := r.Run(ctx, "echo partial; exit 3")
	if err == nil {
		t.Fatal("non-zero exit not reported")
	}
	if !strings.Contains(out.(string), "partial") {
		t.Fatalf("output lost on failure: %q", out)
	}
}

func TestRunnerHonorsContext(t *testing.T) {
	t.Parallel()
	r := newExecRunner(logx.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := r.Run(ctx, "sleep 10"); err == nil {
		t.Fatal("expected error from cancelled command")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("command was not killed promptly: %v", elapsed)
	}
}

func TestCapWriterBounds(t *testing.T) {
	t.Parallel()
	r := newExecRunner(logx.Nop())

	// Emit ~1MiB; the captured result must stay within the cap.
	out, err := r.Run(context.Background(), "head -c 1048576 /dev/zero | tr '\\0' 'x'")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := len(out.(string)); n > maxCapturedOutput {
		t.Fatalf("captured %d bytes, cap is %d", n, maxCapturedOutput)
	}
}
