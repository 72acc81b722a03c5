package launcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/seantiz/webgen/internal/probe"
)

func newTestExec(t *testing.T, command string) *Exec {
	t.Helper()
	p, err := probe.NewDefault()
	if err != nil {
		t.Skipf("procfs unavailable: %v", err)
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	e, err := NewExec(Config{Shell: "/bin/sh", Command: command}, p, logger)
	if err != nil {
		t.Fatalf("NewExec: %v", err)
	}
	t.Cleanup(e.Wait)
	return e
}

func newSpec(t *testing.T) Spec {
	t.Helper()
	dir := t.TempDir()
	prompt := filepath.Join(dir, "task.txt")
	if err := os.WriteFile(prompt, []byte("make it blue"), 0o644); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
	return Spec{Dir: dir, PromptFile: prompt, LogFile: filepath.Join(dir, "ccr.log")}
}

func readLog(t *testing.T, spec Spec) string {
	t.Helper()
	b, err := os.ReadFile(spec.LogFile)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return string(b)
}

func TestLaunchCombinedOutput(t *testing.T) {
	e := newTestExec(t, `echo to-stdout; echo to-stderr >&2; pwd; cat "$PROMPT_FILE"`)
	spec := newSpec(t)

	proc, err := e.Launch(context.Background(), spec)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if proc.PID <= 0 {
		t.Fatalf("pid = %d, want > 0", proc.PID)
	}
	e.Wait()

	log := readLog(t, spec)
	for _, want := range []string{"to-stdout", "to-stderr", spec.Dir, "make it blue"} {
		if !strings.Contains(log, want) {
			t.Errorf("log %q missing %q", log, want)
		}
	}
}

func TestLaunchNewSession(t *testing.T) {
	e := newTestExec(t, "sleep 1")
	spec := newSpec(t)

	proc, err := e.Launch(context.Background(), spec)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if proc.PGID != proc.PID {
		t.Errorf("pgid = %d, want session leader pid %d", proc.PGID, proc.PID)
	}
	sid, err := unix.Getsid(proc.PID)
	if err != nil {
		t.Fatalf("Getsid: %v", err)
	}
	if sid != proc.PID {
		t.Errorf("sid = %d, want %d", sid, proc.PID)
	}
	if mySid, _ := unix.Getsid(0); mySid == sid {
		t.Error("generator shares the parent's session")
	}
	if proc.StartTicks == 0 {
		t.Error("start ticks not recorded")
	}
}

func TestLaunchNoInteractiveInput(t *testing.T) {
	// cat exits immediately when stdin is /dev/null.
	e := newTestExec(t, "cat; echo finished")
	spec := newSpec(t)

	if _, err := e.Launch(context.Background(), spec); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	done := make(chan struct{})
	go func() {
		e.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("generator blocked reading stdin")
	}
	if !strings.Contains(readLog(t, spec), "finished") {
		t.Error("generator did not run to completion")
	}
}

func TestLaunchReapsChild(t *testing.T) {
	e := newTestExec(t, "exit 7")
	spec := newSpec(t)

	proc, err := e.Launch(context.Background(), spec)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	e.Wait()

	p, _ := probe.NewDefault()
	state, err := p.Probe(context.Background(), probe.Target{PID: proc.PID, StartTicks: proc.StartTicks})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if state != probe.StateDead {
		t.Errorf("state after reap = %q, want dead", state)
	}
}

func TestLaunchStartFailure(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	e, err := NewExec(Config{Shell: "/nonexistent/shell", Command: "true"}, nil, logger)
	if err != nil {
		t.Fatalf("NewExec: %v", err)
	}

	if _, err := e.Launch(context.Background(), newSpec(t)); err == nil {
		t.Fatal("Launch succeeded with a missing shell")
	}
}

func TestLaunchMissingWorkspace(t *testing.T) {
	e := newTestExec(t, "true")
	spec := newSpec(t)
	spec.LogFile = filepath.Join(spec.Dir, "gone", "ccr.log")

	if _, err := e.Launch(context.Background(), spec); err == nil {
		t.Fatal("Launch succeeded without a log file location")
	}
}

func TestNewExecValidation(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	if _, err := NewExec(Config{Command: "true"}, nil, logger); err == nil {
		t.Error("NewExec without shell succeeded")
	}
	if _, err := NewExec(Config{Shell: "/bin/sh"}, nil, logger); err == nil {
		t.Error("NewExec without command succeeded")
	}
	if _, err := NewExec(Config{Shell: "/bin/sh", Command: "true", RunAsUser: "no-such-user-webgen"}, nil, logger); err == nil {
		t.Error("NewExec with unknown user succeeded")
	}
}

func TestLaunchAsCurrentUser(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("switching credentials requires root")
	}
	u, err := user.Current()
	if err != nil {
		t.Skipf("current user: %v", err)
	}
	p, err := probe.NewDefault()
	if err != nil {
		t.Skipf("procfs unavailable: %v", err)
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	e, err := NewExec(Config{Shell: "/bin/sh", Command: `echo "home=$HOME user=$USER"`, RunAsUser: u.Username}, p, logger)
	if err != nil {
		t.Fatalf("NewExec: %v", err)
	}
	spec := newSpec(t)

	if _, err := e.Launch(context.Background(), spec); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	e.Wait()

	log := readLog(t, spec)
	if !strings.Contains(log, "user="+u.Username) {
		t.Errorf("log %q missing user %q", log, u.Username)
	}
}
