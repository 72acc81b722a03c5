package launcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Config selects how the generator is run.
type Config struct {
	// Shell runs Command as "<Shell> -c <Command>".
	Shell   string
	Command string
	// RunAsUser, when set, runs the generator under that account and hands
	// the workspace over to it.
	RunAsUser string
}

// identity is a resolved RunAsUser.
type identity struct {
	name string
	home string
	uid  int
	gid  int
	cred *syscall.Credential
}

// Exec launches the generator as a host process in its own session.
type Exec struct {
	cfg    Config
	ticks  StartTicker
	logger *slog.Logger
	ident  *identity
	wg     sync.WaitGroup
}

var _ Launcher = (*Exec)(nil)

// NewExec creates an Exec launcher. The RunAsUser account, if any, is
// resolved once here so a misconfiguration fails at startup.
func NewExec(cfg Config, ticks StartTicker, logger *slog.Logger) (*Exec, error) {
	if cfg.Shell == "" {
		return nil, errors.New("launcher: shell is required")
	}
	if cfg.Command == "" {
		return nil, errors.New("launcher: command is required")
	}

	e := &Exec{cfg: cfg, ticks: ticks, logger: logger}
	if cfg.RunAsUser != "" {
		ident, err := lookupIdentity(cfg.RunAsUser)
		if err != nil {
			return nil, err
		}
		e.ident = ident
	}
	return e, nil
}

// Launch starts the generator detached from this process: a new session,
// stdin from /dev/null, output appended to spec.LogFile. The child is reaped
// in the background; its exit status is logged and otherwise ignored.
func (e *Exec) Launch(ctx context.Context, spec Spec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return Process{}, err
	}

	logFile, err := os.OpenFile(spec.LogFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return Process{}, fmt.Errorf("open log file: %w", err)
	}
	// The child holds its own descriptor once started.
	defer logFile.Close()

	if e.ident != nil {
		if err := chownTree(spec.Dir, e.ident.uid, e.ident.gid); err != nil {
			return Process{}, fmt.Errorf("hand workspace to %s: %w", e.ident.name, err)
		}
	}

	// Not CommandContext: the generator must outlive the request.
	cmd := exec.Command(e.cfg.Shell, "-c", e.cfg.Command)
	cmd.Dir = spec.Dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = e.environ(spec)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if e.ident != nil {
		cmd.SysProcAttr.Credential = e.ident.cred
	}

	if err := cmd.Start(); err != nil {
		return Process{}, fmt.Errorf("start generator: %w", err)
	}

	pid := cmd.Process.Pid
	proc := Process{PID: pid, PGID: pid}
	if pgid, err := unix.Getpgid(pid); err == nil {
		proc.PGID = pgid
	} else {
		e.logger.Warn("read generator pgid", "pid", pid, "error", err)
	}
	if e.ticks != nil {
		if ticks, err := e.ticks.StartTicks(pid); err == nil {
			proc.StartTicks = ticks
		} else {
			e.logger.Warn("read generator start time", "pid", pid, "error", err)
		}
	}

	e.wg.Go(func() {
		e.reap(cmd, spec.Dir)
	})

	e.logger.Info("generator started",
		"pid", proc.PID,
		"pgid", proc.PGID,
		"dir", spec.Dir,
	)
	return proc, nil
}

// Wait blocks until every launched generator has exited and been reaped.
func (e *Exec) Wait() {
	e.wg.Wait()
}

func (e *Exec) reap(cmd *exec.Cmd, dir string) {
	err := cmd.Wait()
	exitCode := cmd.ProcessState.ExitCode()
	if err != nil && !isExitError(err) {
		e.logger.Error("wait for generator", "pid", cmd.Process.Pid, "error", err)
		return
	}
	e.logger.Info("generator exited",
		"pid", cmd.Process.Pid,
		"exit_code", exitCode,
		"dir", dir,
	)
}

func (e *Exec) environ(spec Spec) []string {
	env := append(os.Environ(), "PROMPT_FILE="+spec.PromptFile)
	if e.ident != nil {
		env = append(env,
			"HOME="+e.ident.home,
			"USER="+e.ident.name,
			"LOGNAME="+e.ident.name,
		)
	}
	return env
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

func lookupIdentity(name string) (*identity, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("lookup run-as user: %w", err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return nil, fmt.Errorf("parse uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return nil, fmt.Errorf("parse gid %q: %w", u.Gid, err)
	}

	var groups []uint32
	if ids, err := u.GroupIds(); err == nil {
		for _, g := range ids {
			if n, err := strconv.ParseUint(g, 10, 32); err == nil {
				groups = append(groups, uint32(n))
			}
		}
	}

	return &identity{
		name: u.Username,
		home: u.HomeDir,
		uid:  uid,
		gid:  gid,
		cred: &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid), Groups: groups},
	}, nil
}

// chownTree gives every entry under dir to uid:gid without following symlinks.
func chownTree(dir string, uid, gid int) error {
	return filepath.WalkDir(dir, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Lchown(path, uid, gid)
	})
}
