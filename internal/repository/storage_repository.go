package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/near-outlayer/execution-plane/internal/models"
)

// StorageRepository persists sealed guest storage. Rows are keyed by
// (namespace, key hash) where the namespace encodes payer, project and
// visibility.
type StorageRepository interface {
	Get(ctx context.Context, namespace, keyHash string) (*models.StorageEntry, error)
	Set(ctx context.Context, entry *models.StorageEntry) error
	Delete(ctx context.Context, namespace, keyHash string) error
}

type storageRepository struct {
	db *gorm.DB
}

func NewStorageRepository(db *gorm.DB) StorageRepository {
	return &storageRepository{db: db}
}

func (r *storageRepository) Get(ctx context.Context, namespace, keyHash string) (*models.StorageEntry, error) {
	var entry models.StorageEntry
	err := r.db.WithContext(ctx).
		Where("namespace = ? AND key_hash = ?", namespace, keyHash).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *storageRepository) Set(ctx context.Context, entry *models.StorageEntry) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "key_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "version", "updated_at"}),
	}).Create(entry).Error
}

func (r *storageRepository) Delete(ctx context.Context, namespace, keyHash string) error {
	return r.db.WithContext(ctx).
		Where("namespace = ? AND key_hash = ?", namespace, keyHash).
		Delete(&models.StorageEntry{}).Error
}
