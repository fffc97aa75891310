package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/near-outlayer/execution-plane/internal/models"
)

// SystemLogRepository stores raw compile/exec diagnostics for admin review.
type SystemLogRepository interface {
	Append(ctx context.Context, entry *models.SystemLog) error
	ListByRequest(ctx context.Context, requestID uint64, limit int) ([]models.SystemLog, error)
}

type systemLogRepository struct {
	db *gorm.DB
}

func NewSystemLogRepository(db *gorm.DB) SystemLogRepository {
	return &systemLogRepository{db: db}
}

func (r *systemLogRepository) Append(ctx context.Context, entry *models.SystemLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *systemLogRepository) ListByRequest(ctx context.Context, requestID uint64, limit int) ([]models.SystemLog, error) {
	var entries []models.SystemLog
	q := r.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if requestID != 0 {
		q = q.Where("request_id = ?", requestID)
	}
	err := q.Find(&entries).Error
	return entries, err
}
