package misp

import (
	"misp-controlplane/pkg/config"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const oneActiveKeyIndex = "idx_misp_license_keys_one_active"

// Migrate creates the tables plus the partial unique index that allows a single
// active key per account. MySQL has no partial indexes and relies on the row lock.
func Migrate(tx *gorm.DB) error {
	if err := tx.AutoMigrate(&Misp{}, &LicenseKey{}); err != nil {
		return err
	}
	if err := backfillFoldedNames(tx); err != nil {
		return err
	}
	if tx.Dialector.Name() == "mysql" {
		return nil
	}
	return tx.Exec("CREATE UNIQUE INDEX IF NOT EXISTS " + oneActiveKeyIndex +
		" ON misp_license_keys (misp_id) WHERE status = 'active'").Error
}

func migrate(cfg *config.Config, tx *gorm.DB) error {
	if !cfg.Database.AutoMigrate {
		return nil
	}
	if err := Migrate(tx); err != nil {
		zap.L().Error("[DB] misp migration failed", zap.Error(err))
		return err
	}
	return nil
}

// backfillFoldedNames fills org_name_folded for rows written before the column existed.
func backfillFoldedNames(tx *gorm.DB) error {
	var rows []*Misp
	return tx.Where("org_name_folded = ?", "").FindInBatches(&rows, 500, func(_ *gorm.DB, _ int) error {
		for _, m := range rows {
			err := tx.Session(&gorm.Session{NewDB: true}).Model(&Misp{}).
				Where("misp_id = ?", m.ID).
				UpdateColumn("org_name_folded", foldOrgName(m.OrgName)).Error
			if err != nil {
				return err
			}
		}
		return nil
	}).Error
}
