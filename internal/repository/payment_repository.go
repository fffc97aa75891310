package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/near-outlayer/execution-plane/internal/errs"
	"github.com/near-outlayer/execution-plane/internal/models"
)

// PaymentRepository maintains PaymentKeyBalance rows. Reserve and settle run
// inside transactions that read, validate headroom, and write; stale
// reservations are reclaimed by ReclaimStale on a janitor cadence.
type PaymentRepository interface {
	Reserve(ctx context.Context, paymentKey string, amount uint64) error
	// SettleReservation converts a prior reservation into a charge and a
	// refund back to the available balance.
	SettleReservation(ctx context.Context, paymentKey string, reserved, charge, refund uint64) error
	Deposit(ctx context.Context, paymentKey string, amount uint64) error
	ReclaimStale(ctx context.Context, staleAge time.Duration) (int64, error)
	Find(ctx context.Context, paymentKey string) (*models.PaymentKeyBalance, error)
}

type paymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Reserve(ctx context.Context, paymentKey string, amount uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bal models.PaymentKeyBalance
		err := tx.Where("payment_key = ?", paymentKey).First(&bal).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("payment key %s: %w", paymentKey, errs.ErrPaymentShortfall)
		}
		if err != nil {
			return err
		}
		if bal.Available < amount {
			return fmt.Errorf("available %d < requested %d: %w", bal.Available, amount, errs.ErrPaymentShortfall)
		}
		now := time.Now().UTC()
		return tx.Model(&models.PaymentKeyBalance{}).
			Where("payment_key = ?", paymentKey).
			Updates(map[string]any{
				"available":        bal.Available - amount,
				"reserved":         bal.Reserved + amount,
				"last_reserved_at": now,
			}).Error
	})
}

// clampSettlement bounds a settlement against what is still reserved on the
// row. release is the reservation actually returned; credit caps the refund
// at that release, so funds the janitor already returned to available are
// never credited a second time.
func clampSettlement(balReserved, reserved, refund uint64) (release, credit uint64) {
	release = reserved
	if release > balReserved {
		release = balReserved
	}
	credit = refund
	if credit > release {
		credit = release
	}
	return release, credit
}

func (r *paymentRepository) SettleReservation(ctx context.Context, paymentKey string, reserved, charge, refund uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bal models.PaymentKeyBalance
		if err := tx.Where("payment_key = ?", paymentKey).First(&bal).Error; err != nil {
			return err
		}
		release, credit := clampSettlement(bal.Reserved, reserved, refund)
		updates := map[string]any{
			"available": bal.Available + credit,
			"reserved":  bal.Reserved - release,
		}
		if bal.Reserved-release == 0 {
			updates["last_reserved_at"] = nil
		}
		return tx.Model(&models.PaymentKeyBalance{}).
			Where("payment_key = ?", paymentKey).
			Updates(updates).Error
	})
}

func (r *paymentRepository) Deposit(ctx context.Context, paymentKey string, amount uint64) error {
	bal := models.PaymentKeyBalance{PaymentKey: paymentKey, Available: amount}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.PaymentKeyBalance{}).
			Where("payment_key = ?", paymentKey).
			Update("available", gorm.Expr("available + ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return tx.Create(&bal).Error
		}
		return nil
	})
}

// ReclaimStale resets reservations older than staleAge so stuck holds cannot
// block future requests. Keys with a pending or claimed job are skipped: a
// slow job is settled by SettleReservation, not reclaimed out from under it.
func (r *paymentRepository) ReclaimStale(ctx context.Context, staleAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-staleAge)
	liveJobs := r.db.Model(&models.Job{}).
		Select("1").
		Where("jobs.payer = payment_key_balances.payment_key").
		Where("jobs.status IN ?", []string{models.JobPending, models.JobClaimed})
	res := r.db.WithContext(ctx).Model(&models.PaymentKeyBalance{}).
		Where("reserved > 0 AND last_reserved_at IS NOT NULL AND last_reserved_at < ?", cutoff).
		Where("NOT EXISTS (?)", liveJobs).
		Updates(map[string]any{
			"available":        gorm.Expr("available + reserved"),
			"reserved":         0,
			"last_reserved_at": nil,
		})
	return res.RowsAffected, res.Error
}

func (r *paymentRepository) Find(ctx context.Context, paymentKey string) (*models.PaymentKeyBalance, error) {
	var bal models.PaymentKeyBalance
	err := r.db.WithContext(ctx).Where("payment_key = ?", paymentKey).First(&bal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bal, nil
}
