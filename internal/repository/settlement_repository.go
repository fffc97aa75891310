package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/near-outlayer/execution-plane/internal/models"
)

// SettlementRepository records the chain-visible outcome of each request.
// The request_id primary key makes insertion the exactly-once guard.
type SettlementRepository interface {
	// InsertOnce inserts the settlement; returns false when one already
	// exists for the request id.
	InsertOnce(ctx context.Context, s *models.Settlement) (bool, error)
	FindByRequestID(ctx context.Context, requestID uint64) (*models.Settlement, error)
}

type settlementRepository struct {
	db *gorm.DB
}

func NewSettlementRepository(db *gorm.DB) SettlementRepository {
	return &settlementRepository{db: db}
}

func (r *settlementRepository) InsertOnce(ctx context.Context, s *models.Settlement) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(s)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *settlementRepository) FindByRequestID(ctx context.Context, requestID uint64) (*models.Settlement, error) {
	var s models.Settlement
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
