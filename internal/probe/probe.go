// Package probe reports whether a launched generator process is still alive,
// using a signal-free existence check followed by a read of the process's
// scheduling state from the proc filesystem.
//
// Plain pids are not stable handles: the kernel may hand a finished job's pid
// to an unrelated process. When the start time recorded at launch is known it
// is compared against the current holder of the pid, which narrows but cannot
// close that window.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"

	"github.com/seantiz/webgen/internal/model"
)

// State is the liveness of a process as seen in the process table.
type State string

// Probe results.
const (
	StateRunning State = "running"
	StateZombie  State = "zombie"
	StateDead    State = "dead"
)

// zombieState is the scheduling-state letter of a zombie in /proc/<pid>/stat.
const zombieState = "Z"

// Target identifies a launched process.
type Target struct {
	PID int
	// StartTicks is the start time recorded at launch in clock ticks since
	// boot. Zero disables the reuse check.
	StartTicks uint64
}

// Prober checks process liveness against a proc filesystem.
type Prober struct {
	fs procfs.FS
}

// New creates a Prober reading the proc filesystem mounted at mountPoint.
func New(mountPoint string) (*Prober, error) {
	pfs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	return &Prober{fs: pfs}, nil
}

// NewDefault creates a Prober on /proc.
func NewDefault() (*Prober, error) {
	return New(procfs.DefaultMountPoint)
}

// Probe reports the state of the target process. A process that exists but
// cannot be signalled by this user is treated as existing.
func (p *Prober) Probe(ctx context.Context, t Target) (State, error) {
	if t.PID <= 0 {
		return StateDead, fmt.Errorf("invalid pid %d", t.PID)
	}
	if err := ctx.Err(); err != nil {
		return StateDead, err
	}

	state, err := p.probe(t)
	if err != nil {
		return StateDead, err
	}
	probeResults.WithLabelValues(string(state)).Inc()
	return state, nil
}

func (p *Prober) probe(t Target) (State, error) {
	if err := unix.Kill(t.PID, 0); err != nil {
		switch {
		case errors.Is(err, unix.ESRCH):
			return StateDead, nil
		case errors.Is(err, unix.EPERM):
			// Exists, owned by someone else.
		default:
			return StateDead, fmt.Errorf("signal pid %d: %w", t.PID, err)
		}
	}

	stat, err := p.stat(t.PID)
	if isGone(err) {
		return StateDead, nil
	}
	if err != nil {
		return StateDead, fmt.Errorf("read stat of pid %d: %w", t.PID, err)
	}

	if t.StartTicks != 0 && stat.Starttime != t.StartTicks {
		return StateDead, nil
	}
	if stat.State == zombieState {
		return StateZombie, nil
	}
	return StateRunning, nil
}

// StartTicks returns the start time of pid in clock ticks since boot.
func (p *Prober) StartTicks(pid int) (uint64, error) {
	stat, err := p.stat(pid)
	if err != nil {
		return 0, err
	}
	return stat.Starttime, nil
}

func (p *Prober) stat(pid int) (procfs.ProcStat, error) {
	proc, err := p.fs.Proc(pid)
	if err != nil {
		return procfs.ProcStat{}, err
	}
	return proc.Stat()
}

// isGone reports whether err means the proc entry disappeared, i.e. the
// process was reaped between the existence check and the read.
func isGone(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, unix.ESRCH)
}

// Observed maps a probe state to the externally reported job status.
// Zombies and dead processes are both finished.
func Observed(s State) string {
	if s == StateRunning {
		return model.StatusRunning
	}
	return model.StatusDone
}
