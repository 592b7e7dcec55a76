package models

import (
	"errors"
	"time"
)

const (
	ENQUEUED_JOB    = "enqueued"
	IN_PROGRESS_JOB = "in-progress"
	SUCCESSFUL_JOB  = "successful"
	DEAD_JOB        = "dead"
)

var ErrDuplicateJob = errors.New("job with the given unique key already exists")

type JobsStats struct {
	EnqueuedJobCount   int64 `json:"enqueued_job_count"`
	InProgressJobCount int64 `json:"in_progress_job_count"`
	SuccessfulJobCount int64 `json:"successful_job_count"`
	DeadJobCount       int64 `json:"dead_job_count"`
}

type Job struct {
	BaseModel
	Fails     int    `json:"fails"`
	Name      string `json:"name"`
	Handler   string `json:"handler" gorm:"not null"`
	Args      string `json:"args"`
	LastError string `json:"last_error"`
	// UniqueKey, when set, makes enqueueing the same work twice a no-op.
	UniqueKey *string   `json:"unique_key,omitempty" gorm:"uniqueIndex"`
	Claimed   bool      `json:"claimed"`
	Status    string    `json:"status" gorm:"size:20;not null;index:idx_jobs_next,priority:1"`
	RunAt     time.Time `json:"run_at" gorm:"index:idx_jobs_next,priority:2"`
}
