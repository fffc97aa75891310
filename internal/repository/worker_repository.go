package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/near-outlayer/execution-plane/internal/models"
)

// WorkerRepository records admitted workers and their heartbeats.
type WorkerRepository interface {
	Admit(ctx context.Context, workerID, measurement string) error
	Heartbeat(ctx context.Context, workerID string) error
}

type workerRepository struct {
	db *gorm.DB
}

func NewWorkerRepository(db *gorm.DB) WorkerRepository {
	return &workerRepository{db: db}
}

func (r *workerRepository) Admit(ctx context.Context, workerID, measurement string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "worker_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"measurement", "admitted_at", "last_seen_at"}),
	}).Create(&models.WorkerRegistration{
		WorkerID:    workerID,
		Measurement: measurement,
		AdmittedAt:  now,
		LastSeenAt:  now,
	}).Error
}

func (r *workerRepository) Heartbeat(ctx context.Context, workerID string) error {
	return r.db.WithContext(ctx).Model(&models.WorkerRegistration{}).
		Where("worker_id = ?", workerID).
		Update("last_seen_at", time.Now().UTC()).Error
}
