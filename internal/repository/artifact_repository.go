package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/near-outlayer/execution-plane/internal/models"
)

// ArtifactRepository is the metadata side of the artifact cache. The table is
// the serialization point for create/evict; blob files are immutable and read
// without locks.
type ArtifactRepository interface {
	FindByFingerprint(ctx context.Context, fingerprint string) (*models.Artifact, error)
	// Insert adds the record unless one already exists; returns the winning
	// record and whether this call created it.
	Insert(ctx context.Context, rec *models.Artifact) (*models.Artifact, bool, error)
	Touch(ctx context.Context, fingerprint string) error
	Delete(ctx context.Context, fingerprint string) error
	TotalSize(ctx context.Context) (int64, error)
	OldestFirst(ctx context.Context) ([]models.Artifact, error)
}

type artifactRepository struct {
	db *gorm.DB
}

func NewArtifactRepository(db *gorm.DB) ArtifactRepository {
	return &artifactRepository{db: db}
}

func (r *artifactRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*models.Artifact, error) {
	var rec models.Artifact
	err := r.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *artifactRepository) Insert(ctx context.Context, rec *models.Artifact) (*models.Artifact, bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return rec, true, nil
	}
	// A concurrent store for the same fingerprint won; observe its record.
	existing, err := r.FindByFingerprint(ctx, rec.Fingerprint)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *artifactRepository) Touch(ctx context.Context, fingerprint string) error {
	return r.db.WithContext(ctx).Model(&models.Artifact{}).
		Where("fingerprint = ?", fingerprint).
		Update("last_accessed_at", time.Now().UTC()).Error
}

func (r *artifactRepository) Delete(ctx context.Context, fingerprint string) error {
	return r.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).Delete(&models.Artifact{}).Error
}

func (r *artifactRepository) TotalSize(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.Artifact{}).
		Select("COALESCE(SUM(size_bytes), 0)").Scan(&total).Error
	return total, err
}

func (r *artifactRepository) OldestFirst(ctx context.Context) ([]models.Artifact, error) {
	var recs []models.Artifact
	err := r.db.WithContext(ctx).Order("last_accessed_at ASC").Find(&recs).Error
	return recs, err
}
