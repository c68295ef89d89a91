// Package store journals job records so jobs can be listed and re-attached
// across process restarts.
package store

import (
	"context"

	"github.com/me/htjob/pkg/model"
)

// Store defines the persistence layer for job records.
type Store interface {
	UpsertJob(ctx context.Context, rec *model.JobRecord) error
	GetJob(ctx context.Context, id string) (*model.JobRecord, error)
	GetJobBySchedulerID(ctx context.Context, id model.JobID) (*model.JobRecord, error)
	ListJobs(ctx context.Context, opts model.ListOptions) ([]*model.JobRecord, int, error)
	DeleteJob(ctx context.Context, id string) error

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
