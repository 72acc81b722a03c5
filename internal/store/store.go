package store

import (
	"context"

	"github.com/seantiz/webgen/internal/model"
)

// JobStats holds aggregate job counts.
type JobStats struct {
	Total   int `json:"total"`
	Live    int `json:"live"`
	Deleted int `json:"deleted"`
}

// Store defines the persistence operations of the job index. The index
// records what happened to each job; whether a job is running is always
// answered from its workspace, never from here.
type Store interface {
	RecordJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error)
	MarkDeleted(ctx context.Context, id string) error
	MaxSeq(ctx context.Context) (int, error)
	GetJobStats(ctx context.Context) (*JobStats, error)
	AppendEvent(ctx context.Context, e *model.Event) error
	ListEvents(ctx context.Context, jobID string) ([]model.Event, error)
	Close() error
}
