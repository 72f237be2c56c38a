package accounts

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/ksred/folio-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateAccount(ctx context.Context, account *types.Account) error {
	return d.db.WithContext(ctx).Create(account).Error
}

func (d *Database) GetAccount(ctx context.Context, accountID string) (*types.Account, error) {
	var account types.Account
	if err := d.db.WithContext(ctx).Where("account_id = ?", accountID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (d *Database) ListAccounts(ctx context.Context) ([]types.Account, error) {
	var accounts []types.Account
	if err := d.db.WithContext(ctx).Order("created_at asc").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

func (d *Database) DeleteAccount(ctx context.Context, accountID string) error {
	return d.db.WithContext(ctx).Where("account_id = ?", accountID).
		Unscoped().Delete(&types.Account{}).Error
}
