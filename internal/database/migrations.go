package database

import (
	"errors"
	"time"

	"github.com/pantrylabs/listd/internal/list"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillModifiedStamps = "2026-05-11_backfill_modified_stamps"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillModifiedStamps, apply: backfillModifiedStamps},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Items written before modification stamps existed carry a zero
// last_modified_at_ms, which would sort them below every real mutation.
// Treat creation as the first modification, matching current write behavior.
func backfillModifiedStamps(db *gorm.DB) error {
	return db.Model(&list.Item{}).
		Where("last_modified_at_ms = 0").
		Update("last_modified_at_ms", gorm.Expr("created_at_ms")).Error
}
