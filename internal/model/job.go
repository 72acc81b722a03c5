package model

import "time"

// Reported job status values.
const (
	StatusRunning  = "running"
	StatusDone     = "done"
	StatusFailed   = "failed"
	StatusAccepted = "accepted"
	StatusDeleted  = "deleted"
)

// Lifecycle event kinds recorded in the job index.
const (
	EventCreated    = "created"
	EventLaunched   = "launched"
	EventLaunchFail = "launch_failed"
	EventDownloaded = "downloaded"
	EventDeleted    = "deleted"
)

// Workspace file names.
const (
	MetaFile   = "process.json"
	LogFile    = "ccr.log"
	TaskFile   = "task.txt"
	ResultFile = "index.html"
)

// Meta is the per-workspace process record. It is written once, right after
// the generator is spawned, and never mutated afterwards.
type Meta struct {
	WebsiteID  string `json:"website_id"`
	PID        int    `json:"pid,omitempty"`
	PGID       int    `json:"pgid,omitempty"`
	StartTicks uint64 `json:"start_ticks,omitempty"`
	Status     string `json:"status"`
}

// HasPID reports whether a launch was recorded.
func (m Meta) HasPID() bool {
	return m.PID > 0
}

// Job is the index record of a job.
type Job struct {
	ID        string     `json:"website_id"`
	Seq       int        `json:"seq"`
	Workspace string     `json:"workspace"`
	PID       int        `json:"pid,omitempty"`
	PGID      int        `json:"pgid,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Event is a single lifecycle event of a job.
type Event struct {
	ID        string    `json:"id"`
	JobID     string    `json:"website_id"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
