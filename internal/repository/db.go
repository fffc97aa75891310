// Package repository holds the gorm persistence layer for the coordinator.
package repository

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/near-outlayer/execution-plane/internal/models"
)

// Open connects to postgres and migrates the coordinator schema.
func Open(databaseURL string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.AutoMigrate(
		&models.Job{},
		&models.Artifact{},
		&models.PaymentKeyBalance{},
		&models.Settlement{},
		&models.AccessToken{},
		&models.SystemLog{},
		&models.StorageEntry{},
		&models.WorkerRegistration{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return db, nil
}
