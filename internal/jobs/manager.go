package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/seantiz/webgen/internal/launcher"
	"github.com/seantiz/webgen/internal/model"
	"github.com/seantiz/webgen/internal/probe"
	"github.com/seantiz/webgen/internal/snapshot"
	"github.com/seantiz/webgen/internal/store"
	"github.com/seantiz/webgen/internal/workspace"
)

// Prober reports the liveness of a launched process.
type Prober interface {
	Probe(ctx context.Context, t probe.Target) (probe.State, error)
}

// Packager builds the result archive of a workspace.
type Packager interface {
	Package(ctx context.Context, dir string) ([]byte, error)
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Workspaces *workspace.Store
	Launcher   launcher.Launcher
	Prober     Prober
	Packager   Packager
	Index      store.Store
	Logger     *slog.Logger
}

// Result is a packaged job result.
type Result struct {
	Filename string
	Data     []byte
}

// Manager orchestrates the job lifecycle.
type Manager struct {
	ws     *workspace.Store
	launch launcher.Launcher
	prober Prober
	pack   Packager
	index  store.Store
	logger *slog.Logger
	locks  *keyedMutex
}

// NewManager creates a job manager.
func NewManager(d Deps) *Manager {
	return &Manager{
		ws:     d.Workspaces,
		launch: d.Launcher,
		prober: d.Prober,
		pack:   d.Packager,
		index:  d.Index,
		logger: d.Logger,
		locks:  newKeyedMutex(),
	}
}

// Create allocates a workspace for snapshot, writes the task files and starts
// the generator. It returns once the metadata record is on disk, without
// waiting for the generator.
//
// If the generator cannot be started the metadata is still written, without
// a pid, so the job reports "failed". If it started but the metadata cannot
// be written, the pid is kept in the index. Either way the id is returned
// along with the error.
func (m *Manager) Create(ctx context.Context, snap string) (string, error) {
	id, dir, err := m.ws.Allocate(ctx)
	if err != nil {
		return "", fmt.Errorf("allocate workspace: %w", err)
	}
	seq, _ := model.ParseJobID(id)
	m.record(&model.Job{ID: id, Seq: seq, Workspace: dir, CreatedAt: time.Now().UTC()})
	m.event(id, model.EventCreated, "")

	sources, err := snapshot.Write(dir, snap)
	if err != nil {
		m.discard(id)
		return "", fmt.Errorf("write task files: %w", err)
	}
	m.logger.Info("workspace prepared", "website_id", id, "sources", len(sources))

	proc, launchErr := m.launch.Launch(ctx, launcher.Spec{
		Dir:        dir,
		PromptFile: filepath.Join(dir, model.TaskFile),
		LogFile:    filepath.Join(dir, model.LogFile),
	})

	meta := model.Meta{WebsiteID: id, Status: model.StatusRunning}
	if launchErr != nil {
		meta.Status = model.StatusFailed
	} else {
		meta.PID = proc.PID
		meta.PGID = proc.PGID
		meta.StartTicks = proc.StartTicks
	}
	if err := workspace.WriteMeta(dir, meta); err != nil {
		if launchErr != nil {
			m.event(id, model.EventLaunchFail, launchErr.Error())
			m.logger.Error("generator launch failed", "website_id", id, "error", launchErr)
			return id, fmt.Errorf("write metadata for %s: %w", id, err)
		}
		// The generator is running but its pid is only known here.
		jobsCreated.WithLabelValues("metadata_failed").Inc()
		m.logger.Error("failed to write job metadata",
			"website_id", id, "pid", proc.PID, "pgid", proc.PGID, "error", err)
		m.record(&model.Job{
			ID: id, Seq: seq, Workspace: dir,
			PID: proc.PID, PGID: proc.PGID,
			CreatedAt: time.Now().UTC(),
		})
		m.event(id, model.EventLaunched,
			fmt.Sprintf("pid=%d pgid=%d metadata_error=%v", proc.PID, proc.PGID, err))
		return id, fmt.Errorf("write metadata for %s: %w", id, err)
	}

	if launchErr != nil {
		jobsCreated.WithLabelValues("launch_failed").Inc()
		m.event(id, model.EventLaunchFail, launchErr.Error())
		m.logger.Error("generator launch failed", "website_id", id, "error", launchErr)
		return id, fmt.Errorf("launch generator for %s: %w", id, launchErr)
	}

	jobsCreated.WithLabelValues("launched").Inc()
	m.record(&model.Job{
		ID: id, Seq: seq, Workspace: dir,
		PID: proc.PID, PGID: proc.PGID,
		CreatedAt: time.Now().UTC(),
	})
	m.event(id, model.EventLaunched, fmt.Sprintf("pid=%d pgid=%d", proc.PID, proc.PGID))
	m.logger.Info("job created", "website_id", id, "pid", proc.PID, "pgid", proc.PGID)
	return id, nil
}

// Status reports "running", "done" or "failed" for id.
func (m *Manager) Status(ctx context.Context, id string) (string, error) {
	meta, err := m.ws.ReadMeta(ctx, id)
	if err != nil {
		return "", err
	}
	if !meta.HasPID() {
		return model.StatusFailed, nil
	}
	state, err := m.prober.Probe(ctx, probe.Target{PID: meta.PID, StartTicks: meta.StartTicks})
	if err != nil {
		return "", fmt.Errorf("probe %s: %w", id, err)
	}
	return probe.Observed(state), nil
}

// FetchResult packages the result of a finished job. A job whose generator
// is still running yields ErrConflict; one that never recorded a pid yields
// ErrInvalidMetadata.
func (m *Manager) FetchResult(ctx context.Context, id string) (*Result, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	meta, err := m.ws.ReadMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	if !meta.HasPID() {
		return nil, fmt.Errorf("%w: no pid recorded for %s", model.ErrInvalidMetadata, id)
	}
	state, err := m.prober.Probe(ctx, probe.Target{PID: meta.PID, StartTicks: meta.StartTicks})
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", id, err)
	}
	if probe.Observed(state) == model.StatusRunning {
		return nil, model.ErrConflict
	}

	dir, err := m.ws.Locate(id)
	if err != nil {
		return nil, err
	}
	data, err := m.pack.Package(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("package %s: %w", id, err)
	}

	m.event(id, model.EventDownloaded, fmt.Sprintf("bytes=%d", len(data)))
	return &Result{Filename: id + ".zip", Data: data}, nil
}

// Delete removes the workspace of id. The generator, if still running, is
// left alone.
func (m *Manager) Delete(ctx context.Context, id string) error {
	unlock := m.locks.Lock(id)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.ws.Remove(id); err != nil {
		return err
	}

	jobsDeleted.Inc()
	if err := m.index.MarkDeleted(context.Background(), id); err != nil && !errors.Is(err, store.ErrNotFound) {
		m.logger.Error("failed to mark job deleted", "website_id", id, "error", err)
	}
	m.event(id, model.EventDeleted, "")
	m.logger.Info("job deleted", "website_id", id)
	return nil
}

// List returns indexed jobs, newest first, and the total count.
func (m *Manager) List(ctx context.Context, limit, offset int) ([]*model.Job, int, error) {
	return m.index.ListJobs(ctx, limit, offset)
}

// Events returns the lifecycle events of id, oldest first.
func (m *Manager) Events(ctx context.Context, id string) ([]model.Event, error) {
	if _, err := m.index.GetJob(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return m.index.ListEvents(ctx, id)
}

// Stats returns job counts from the index.
func (m *Manager) Stats(ctx context.Context) (*store.JobStats, error) {
	return m.index.GetJobStats(ctx)
}

// Ready reports whether new jobs can be created.
func (m *Manager) Ready() error {
	return m.ws.CheckTemplate()
}

// LogPath returns the path of the generator log of id.
func (m *Manager) LogPath(id string) (string, error) {
	dir, err := m.ws.Locate(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, model.LogFile), nil
}

// discard removes a workspace whose setup failed before launch.
func (m *Manager) discard(id string) {
	if err := m.ws.Remove(id); err != nil {
		m.logger.Error("failed to remove workspace", "website_id", id, "error", err)
	}
	if err := m.index.MarkDeleted(context.Background(), id); err != nil {
		m.logger.Error("failed to mark job deleted", "website_id", id, "error", err)
	}
}

// record and event write to the index. The workspace stays the source of
// truth, so failures are logged only.
func (m *Manager) record(j *model.Job) {
	if err := m.index.RecordJob(context.Background(), j); err != nil {
		m.logger.Error("failed to index job", "website_id", j.ID, "error", err)
	}
}

func (m *Manager) event(id, kind, detail string) {
	e := &model.Event{JobID: id, Kind: kind, Detail: detail}
	if err := m.index.AppendEvent(context.Background(), e); err != nil {
		m.logger.Error("failed to record job event", "website_id", id, "kind", kind, "error", err)
	}
}
