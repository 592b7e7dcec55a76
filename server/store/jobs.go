package store

import (
	"context"
	"time"

	"github.com/Daskott/deadman/server/models"
	"gorm.io/gorm/clause"
)

// CreateJob inserts a job. A job whose UniqueKey is already taken is not
// inserted and models.ErrDuplicateJob is returned.
func (s *Store) CreateJob(ctx context.Context, job *models.Job) error {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(job)
	if res.Error != nil {
		return translate("create job", res.Error)
	}

	if res.RowsAffected == 0 {
		return models.ErrDuplicateJob
	}
	return nil
}

// NextEnqueuedJob returns the oldest unclaimed enqueued job that is due.
func (s *Store) NextEnqueuedJob(ctx context.Context, now time.Time) (*models.Job, error) {
	job := models.Job{}
	err := s.db.WithContext(ctx).
		Where("status = ? AND claimed = ? AND run_at <= ?", models.ENQUEUED_JOB, false, now).
		Order("run_at, id").
		First(&job).Error
	if err != nil {
		return nil, translate("next job", err)
	}
	return &job, nil
}

// ClaimJob marks the job as in-progress. It reports false when another
// worker claimed it first.
func (s *Store) ClaimJob(ctx context.Context, id uint) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND claimed = ?", id, false).
		Updates(map[string]interface{}{
			"claimed": true,
			"status":  models.IN_PROGRESS_JOB,
		})
	if res.Error != nil {
		return false, translate("claim job", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) UpdateJob(ctx context.Context, id uint, fields map[string]interface{}) error {
	err := s.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id).Updates(fields).Error
	return translate("update job", err)
}

// NextStuckJob returns a job that has been in-progress since before
// 'updatedBefore', i.e. its worker died without releasing it.
func (s *Store) NextStuckJob(ctx context.Context, updatedBefore time.Time) (*models.Job, error) {
	job := models.Job{}
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at <= ?", models.IN_PROGRESS_JOB, updatedBefore).
		Order("id").
		First(&job).Error
	if err != nil {
		return nil, translate("next stuck job", err)
	}
	return &job, nil
}

func (s *Store) JobsStats(ctx context.Context) (*models.JobsStats, error) {
	stats := models.JobsStats{}
	db := s.db.WithContext(ctx)

	counts := map[string]*int64{
		models.ENQUEUED_JOB:    &stats.EnqueuedJobCount,
		models.IN_PROGRESS_JOB: &stats.InProgressJobCount,
		models.SUCCESSFUL_JOB:  &stats.SuccessfulJobCount,
		models.DEAD_JOB:        &stats.DeadJobCount,
	}

	for status, dest := range counts {
		err := db.Model(&models.Job{}).Where("status = ?", status).Count(dest).Error
		if err != nil {
			return nil, translate("jobs stats", err)
		}
	}

	return &stats, nil
}
