//go:build !windows

package core

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func testExecutor(opts ExecutorOptions) *CommandExecutor {
	return NewCommandExecutor(slog.New(slog.NewTextHandler(io.Discard, nil)), opts)
}

func TestCommandExecutorSuccess(t *testing.T) {
	t.Parallel()
	out := testExecutor(ExecutorOptions{}).Run(context.Background(), "printf 'a\\nb\\n' | wc -l", time.Minute)
	if out.Status != ExecutionSuccess {
		t.Fatalf("Status = %s, error %q", out.Status, out.Error)
	}
	if strings.TrimSpace(out.Stdout) != "2" {
		t.Fatalf("Stdout = %q", out.Stdout)
	}
	if out.ExitCode == nil || *out.ExitCode != 0 {
		t.Fatalf("ExitCode = %v", out.ExitCode)
	}
	if out.Err() != nil {
		t.Fatalf("Err() = %v", out.Err())
	}
	if out.FinishedAt.Before(out.StartedAt) {
		t.Fatalf("FinishedAt %s before StartedAt %s", out.FinishedAt, out.StartedAt)
	}
}

func TestCommandExecutorNonZeroExit(t *testing.T) {
	t.Parallel()
	exec := testExecutor(ExecutorOptions{})

	out := exec.Run(context.Background(), "echo partial; echo oops >&2; exit 3", time.Minute)
	if out.Status != ExecutionFailed {
		t.Fatalf("Status = %s", out.Status)
	}
	if out.Stdout != "partial\n" || out.Error != "oops\n" {
		t.Fatalf("Stdout = %q, Error = %q", out.Stdout, out.Error)
	}
	if out.ExitCode == nil || *out.ExitCode != 3 {
		t.Fatalf("ExitCode = %v", out.ExitCode)
	}
	if KindOf(out.Err()) != KindExecutionFailed {
		t.Fatalf("Err() kind = %s", KindOf(out.Err()))
	}

	out = exec.Run(context.Background(), "exit 4", time.Minute)
	if out.Error != "exit status 4" {
		t.Fatalf("Error without stderr = %q", out.Error)
	}
}

func TestCommandExecutorTimeout(t *testing.T) {
	t.Parallel()
	start := time.Now()
	out := testExecutor(ExecutorOptions{}).Run(context.Background(), "sleep 5; echo done", 200*time.Millisecond)
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("Run took %s, process tree was not terminated", elapsed)
	}
	if out.Status != ExecutionFailed || !out.TimedOut {
		t.Fatalf("Status = %s, TimedOut = %v", out.Status, out.TimedOut)
	}
	if out.Error != "timed out after 200ms" {
		t.Fatalf("Error = %q", out.Error)
	}
	if KindOf(out.Err()) != KindExecutionTimeout {
		t.Fatalf("Err() kind = %s", KindOf(out.Err()))
	}
	if strings.Contains(out.Stdout, "done") {
		t.Fatalf("command kept running after timeout: %q", out.Stdout)
	}
}

func TestCommandExecutorAborted(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancelCause(context.Background())
	time.AfterFunc(100*time.Millisecond, func() { cancel(errShuttingDown) })

	out := testExecutor(ExecutorOptions{}).Run(ctx, "sleep 5", time.Minute)
	if out.Status != ExecutionFailed || out.TimedOut {
		t.Fatalf("Status = %s, TimedOut = %v", out.Status, out.TimedOut)
	}
	if out.Error != "aborted: scheduler shutting down" {
		t.Fatalf("Error = %q", out.Error)
	}
}

func TestCommandExecutorLaunchFailure(t *testing.T) {
	t.Parallel()
	out := testExecutor(ExecutorOptions{Shell: "/nonexistent/shell"}).Run(context.Background(), "true", time.Minute)
	if out.Status != ExecutionFailed {
		t.Fatalf("Status = %s", out.Status)
	}
	if !strings.HasPrefix(out.Error, "failed to start command:") {
		t.Fatalf("Error = %q", out.Error)
	}
	if out.ExitCode != nil {
		t.Fatalf("ExitCode = %v, want nil", *out.ExitCode)
	}
}

func TestCommandExecutorOutputCap(t *testing.T) {
	t.Parallel()
	out := testExecutor(ExecutorOptions{MaxOutputBytes: 10}).Run(context.Background(), "printf '%050d' 0", time.Minute)
	if out.Status != ExecutionSuccess {
		t.Fatalf("Status = %s, error %q", out.Status, out.Error)
	}
	if want := "0000000000" + truncatedMarker; out.Stdout != want {
		t.Fatalf("Stdout = %q, want %q", out.Stdout, want)
	}
}

func TestCappedBuffer(t *testing.T) {
	t.Parallel()
	b := &cappedBuffer{max: 4}
	for _, chunk := range []string{"ab", "cd", "ef"} {
		n, err := b.Write([]byte(chunk))
		if err != nil || n != len(chunk) {
			t.Fatalf("Write(%q) = %d, %v", chunk, n, err)
		}
	}
	if b.String() != "abcd"+truncatedMarker {
		t.Fatalf("String() = %q", b.String())
	}

	exact := &cappedBuffer{max: 4}
	_, _ = exact.Write([]byte("abcd"))
	if exact.String() != "abcd" {
		t.Fatalf("exact fit String() = %q", exact.String())
	}
}
