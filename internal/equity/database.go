package equity

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"github.com/ksred/folio-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// ReplaceAccountSeries swaps an account's synthesized series for a new one
// in a single transaction.
func (d *Database) ReplaceAccountSeries(ctx context.Context, accountID string, points []Point) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", accountID).Unscoped().Delete(&EquityPoint{}).Error; err != nil {
			return err
		}
		for _, p := range points {
			row := EquityPoint{AccountID: accountID, Timestamp: p.Timestamp, Equity: p.Equity}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *Database) DeleteAccountSeries(ctx context.Context, accountID string) error {
	return d.db.WithContext(ctx).Where("account_id = ?", accountID).
		Unscoped().Delete(&EquityPoint{}).Error
}

func (d *Database) AccountSeries(ctx context.Context, accountID string) ([]Point, error) {
	var rows []EquityPoint
	if err := d.db.WithContext(ctx).Where("account_id = ?", accountID).
		Order("timestamp asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	points := make([]Point, len(rows))
	for i, row := range rows {
		points[i] = Point{Timestamp: row.Timestamp, Equity: row.Equity}
	}
	return points, nil
}

// ReplaceCombinedSeries swaps the combined series for a freshly merged one.
func (d *Database) ReplaceCombinedSeries(ctx context.Context, snapshots []types.EquitySnapshot) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Unscoped().Delete(&CombinedSnapshot{}).Error; err != nil {
			return err
		}
		for _, snap := range snapshots {
			accounts, err := json.Marshal(snap.Accounts)
			if err != nil {
				return err
			}
			row := CombinedSnapshot{
				Timestamp:    snap.Timestamp,
				TotalEquity:  snap.TotalEquity,
				AccountsJSON: accounts,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *Database) CombinedSeries(ctx context.Context) ([]types.EquitySnapshot, error) {
	var rows []CombinedSnapshot
	if err := d.db.WithContext(ctx).Order("timestamp asc").Find(&rows).Error; err != nil {
		return nil, err
	}

	snapshots := make([]types.EquitySnapshot, len(rows))
	for i, row := range rows {
		accounts := make(map[string]float64)
		if len(row.AccountsJSON) > 0 {
			if err := json.Unmarshal(row.AccountsJSON, &accounts); err != nil {
				return nil, err
			}
		}
		snapshots[i] = types.EquitySnapshot{
			Timestamp:   row.Timestamp,
			TotalEquity: row.TotalEquity,
			Accounts:    accounts,
		}
	}
	return snapshots, nil
}
