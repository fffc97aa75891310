package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/near-outlayer/execution-plane/internal/models"
)

// TokenRepository matches bearer-token digests. Plaintext tokens are never
// stored.
type TokenRepository interface {
	FindActive(ctx context.Context, tokenHash, role string) (*models.AccessToken, error)
	// TouchLastUsed is fired asynchronously by the auth middleware.
	TouchLastUsed(ctx context.Context, tokenHash string) error
	Create(ctx context.Context, token *models.AccessToken) error
}

type tokenRepository struct {
	db *gorm.DB
}

func NewTokenRepository(db *gorm.DB) TokenRepository {
	return &tokenRepository{db: db}
}

func (r *tokenRepository) FindActive(ctx context.Context, tokenHash, role string) (*models.AccessToken, error) {
	var tok models.AccessToken
	err := r.db.WithContext(ctx).
		Where("token_hash = ? AND role = ? AND is_active", tokenHash, role).
		First(&tok).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

func (r *tokenRepository) TouchLastUsed(ctx context.Context, tokenHash string) error {
	return r.db.WithContext(ctx).Model(&models.AccessToken{}).
		Where("token_hash = ?", tokenHash).
		Update("last_used_at", time.Now().UTC()).Error
}

func (r *tokenRepository) Create(ctx context.Context, token *models.AccessToken) error {
	return r.db.WithContext(ctx).Create(token).Error
}
