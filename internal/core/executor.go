package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds a single execution when no timeout is configured.
	DefaultTimeout = 300 * time.Second

	defaultMaxOutputBytes = 256 << 10
	killGrace             = 5 * time.Second
	truncatedMarker       = "\n[output truncated]"
)

// Outcome is the result of running one command.
type Outcome struct {
	Status     ExecutionStatus
	Stdout     string
	Error      string // stderr, or the reason the run failed
	ExitCode   *int
	TimedOut   bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Err converts a failed outcome into an engine error.
func (o Outcome) Err() error {
	switch {
	case o.Status == ExecutionSuccess:
		return nil
	case o.TimedOut:
		return &Error{Kind: KindExecutionTimeout, Msg: o.Error}
	default:
		return &Error{Kind: KindExecutionFailed, Msg: o.Error}
	}
}

// Duration is the wall-clock time the run took.
func (o Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// Runner executes task commands.
type Runner interface {
	Run(ctx context.Context, command string, timeout time.Duration) Outcome
}

// ExecutorOptions tunes the CommandExecutor.
type ExecutorOptions struct {
	// Shell overrides the interpreter, e.g. "/bin/bash". The platform shell flag is appended.
	Shell string
	// MaxOutputBytes caps each of stdout and stderr.
	MaxOutputBytes int
}

// CommandExecutor runs task commands through the host shell.
type CommandExecutor struct {
	shell     []string
	maxOutput int
	logger    *slog.Logger
}

// NewCommandExecutor creates a new executor.
func NewCommandExecutor(logger *slog.Logger, opts ExecutorOptions) *CommandExecutor {
	shell := defaultShell()
	if s := strings.TrimSpace(opts.Shell); s != "" {
		shell = []string{s, shell[len(shell)-1]}
	}
	maxOutput := opts.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutputBytes
	}
	return &CommandExecutor{
		shell:     shell,
		maxOutput: maxOutput,
		logger:    logger,
	}
}

// Run hands the whole command string to the host shell, so pipelines and
// chaining work and the command runs with the daemon's own privileges. This is
// the only place task commands are turned into processes.
//
// The process group is terminated when timeout elapses or ctx is cancelled.
// Run never returns an error; failures are described by the Outcome.
func (e *CommandExecutor) Run(ctx context.Context, command string, timeout time.Duration) Outcome {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := &cappedBuffer{max: e.maxOutput}
	stderr := &cappedBuffer{max: e.maxOutput}

	args := append(append([]string{}, e.shell[1:]...), command)
	cmd := exec.CommandContext(runCtx, e.shell[0], args...) // #nosec G204
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	setProcessGroup(cmd)

	var escalate *time.Timer
	cmd.Cancel = func() error {
		e.logger.Warn("terminating command process group", "pid", cmd.Process.Pid, "timeout", timeout, "cause", context.Cause(runCtx))
		escalate = time.AfterFunc(killGrace, func() {
			_ = killProcessTree(cmd.Process)
		})
		return terminateProcessTree(cmd.Process)
	}
	cmd.WaitDelay = killGrace + time.Second

	out := Outcome{StartedAt: time.Now().UTC()}
	if err := cmd.Start(); err != nil {
		out.FinishedAt = time.Now().UTC()
		out.Status = ExecutionFailed
		out.Error = fmt.Sprintf("failed to start command: %v", err)
		return out
	}
	waitErr := cmd.Wait()
	if escalate != nil {
		escalate.Stop()
	}
	out.FinishedAt = time.Now().UTC()
	out.Stdout = stdout.String()

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		out.Status = ExecutionSuccess
		code := 0
		out.ExitCode = &code
	case ctx.Err() != nil:
		out.Status = ExecutionFailed
		out.Error = fmt.Sprintf("aborted: %v", context.Cause(ctx))
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		out.Status = ExecutionFailed
		out.TimedOut = true
		out.Error = fmt.Sprintf("timed out after %s", timeout)
	default:
		out.Status = ExecutionFailed
		if errors.As(waitErr, &exitErr) {
			code := exitErr.ExitCode()
			out.ExitCode = &code
		}
		out.Error = stderr.String()
		if strings.TrimSpace(out.Error) == "" {
			out.Error = waitErr.Error()
		}
	}
	return out
}

// cappedBuffer keeps the first max bytes written and silently drops the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	room := b.max - b.buf.Len()
	if room <= 0 {
		if n > 0 {
			b.truncated = true
		}
		return n, nil
	}
	if len(p) > room {
		p = p[:room]
		b.truncated = true
	}
	b.buf.Write(p)
	return n, nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + truncatedMarker
	}
	return b.buf.String()
}
