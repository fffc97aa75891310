package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/near-outlayer/execution-plane/internal/models"
)

// JobRepository persists jobs and performs the guarded state transitions of
// the queue. All transitions are conditional updates; a transition whose
// guard no longer holds affects zero rows and is reported to the caller.
type JobRepository interface {
	Enqueue(ctx context.Context, job *models.Job) error
	Claim(ctx context.Context, workerID string, max int, claimTTL time.Duration) ([]models.Job, error)
	Complete(ctx context.Context, requestID uint64) (bool, error)
	Fail(ctx context.Context, requestID uint64) (bool, error)
	RequeueExpired(ctx context.Context) (int64, error)
	FindByID(ctx context.Context, requestID uint64) (*models.Job, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type jobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{db: db}
}

func (r *jobRepository) Enqueue(ctx context.Context, job *models.Job) error {
	job.Status = models.JobPending
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(job).Error
}

// Claim atomically moves up to max pending jobs to claimed for workerID.
// SKIP LOCKED keeps concurrent claimers from blocking on or double-claiming
// the same rows.
func (r *jobRepository) Claim(ctx context.Context, workerID string, max int, claimTTL time.Duration) ([]models.Job, error) {
	var claimed []models.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending []models.Job
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", models.JobPending).
			Order("enqueued_at ASC").
			Limit(max).
			Find(&pending).Error; err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}

		deadline := time.Now().UTC().Add(claimTTL)
		for i := range pending {
			res := tx.Model(&models.Job{}).
				Where("request_id = ? AND status = ?", pending[i].RequestID, models.JobPending).
				Updates(map[string]any{
					"status":         models.JobClaimed,
					"worker_id":      workerID,
					"claim_deadline": deadline,
					"attempts":       gorm.Expr("attempts + 1"),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				pending[i].Status = models.JobClaimed
				pending[i].WorkerID = workerID
				pending[i].ClaimDeadline = &deadline
				claimed = append(claimed, pending[i])
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	return claimed, nil
}

func (r *jobRepository) transition(ctx context.Context, requestID uint64, from, to string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("request_id = ? AND status = ?", requestID, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *jobRepository) Complete(ctx context.Context, requestID uint64) (bool, error) {
	return r.transition(ctx, requestID, models.JobClaimed, models.JobCompleted)
}

func (r *jobRepository) Fail(ctx context.Context, requestID uint64) (bool, error) {
	return r.transition(ctx, requestID, models.JobClaimed, models.JobFailed)
}

// RequeueExpired returns claimed jobs whose deadline has elapsed to pending.
// The enqueue timestamp is reset so a poison job goes to the tail, not the
// head.
func (r *jobRepository) RequeueExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("status = ? AND claim_deadline < ?", models.JobClaimed, time.Now().UTC()).
		Updates(map[string]any{
			"status":         models.JobPending,
			"worker_id":      "",
			"claim_deadline": nil,
			"enqueued_at":    time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

func (r *jobRepository) FindByID(ctx context.Context, requestID uint64) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []string{models.JobCompleted, models.JobFailed}, cutoff).
		Delete(&models.Job{})
	return res.RowsAffected, res.Error
}
