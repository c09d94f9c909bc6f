package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"poold/internal/sched"
	logx "poold/pkg/logx"
)

// commandSpec is the payload format the daemon's runner executes.
type commandSpec struct {
	Command []string `json:"command"`
	Dir     string   `json:"dir,omitempty"`
	Env     []string `json:"env,omitempty"`
}

const maxCapturedOutput = 64 << 10

// execRunner executes task payloads as subprocesses. Payloads may be a
// sched.JobPayload carrying a commandSpec, a raw commandSpec, or a plain
// string run through "sh -c".
type execRunner struct {
	log logx.Logger
}

func newExecRunner(log logx.Logger) *execRunner {
	return &execRunner{log: log}
}

func (r *execRunner) Run(ctx context.Context, payload any) (any, error) {
	spec, name, err := decodeSpec(payload)
	if err != nil {
		return nil, err
	}
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	cmd := exec.CommandContext(ctx, spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(cmd.Environ(), spec.Env...)
	}

	var out bytes.Buffer
	cmd.Stdout = &capWriter{buf: &out}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Run(); err != nil {
		r.log.Debug("command failed",
			logx.String("job", name),
			logx.String("cmd", spec.Command[0]),
			logx.Err(err),
		)
		return out.String(), fmt.Errorf("%s: %w", spec.Command[0], err)
	}
	return out.String(), nil
}

func decodeSpec(payload any) (commandSpec, string, error) {
	switch p := payload.(type) {
	case sched.JobPayload:
		var spec commandSpec
		if len(p.Data) == 0 {
			return spec, p.Job, fmt.Errorf("job %q has no payload", p.Job)
		}
		if err := json.Unmarshal(p.Data, &spec); err != nil {
			return spec, p.Job, fmt.Errorf("job %q payload: %w", p.Job, err)
		}
		return spec, p.Job, nil
	case commandSpec:
		return p, "", nil
	case string:
		if strings.TrimSpace(p) == "" {
			return commandSpec{}, "", fmt.Errorf("empty command")
		}
		return commandSpec{Command: []string{"sh", "-c", p}}, "", nil
	default:
		return commandSpec{}, "", fmt.Errorf("unsupported payload type %T", payload)
	}
}

// capWriter bounds captured output so a chatty command cannot balloon task
// results held by futures.
type capWriter struct {
	buf *bytes.Buffer
}

func (w *capWriter) Write(p []byte) (int, error) {
	n := len(p)
	if remain := maxCapturedOutput - w.buf.Len(); remain > 0 {
		if len(p) > remain {
			p = p[:remain]
		}
		w.buf.Write(p)
	}
	return n, nil
}
