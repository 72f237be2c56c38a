package cache

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetPartition(ctx context.Context, accountID string) (*CachePartition, error) {
	var partition CachePartition
	if err := d.db.WithContext(ctx).Where("account_id = ?", accountID).First(&partition).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &partition, nil
}

// UpsertPartition replaces the whole partition row for the account,
// creating it on first save.
func (d *Database) UpsertPartition(ctx context.Context, partition *CachePartition) error {
	var existing CachePartition
	err := d.db.WithContext(ctx).Where("account_id = ?", partition.AccountID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return d.db.WithContext(ctx).Create(partition).Error
	}
	if err != nil {
		return err
	}

	existing.Payload = partition.Payload
	existing.IsComplete = partition.IsComplete
	existing.LastUpdated = partition.LastUpdated
	return d.db.WithContext(ctx).Save(&existing).Error
}

func (d *Database) DeletePartition(ctx context.Context, accountID string) error {
	return d.db.WithContext(ctx).Where("account_id = ?", accountID).
		Unscoped().Delete(&CachePartition{}).Error
}
