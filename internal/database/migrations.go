package database

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/vatdefs/internal/definitions"
	"github.com/MarcoPoloResearchLab/vatdefs/internal/store"
)

const migrationPurgeUnknownDefinitionKinds = "2026-10-19_purge_unknown_definition_kinds"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationStep struct {
	name  string
	apply func(*gorm.DB) error
}

// definitionMigrations run in order; each one is recorded in db_migrations
// inside the same transaction that applies it.
var definitionMigrations = []migrationStep{
	{name: migrationPurgeUnknownDefinitionKinds, apply: purgeUnknownDefinitionKinds},
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	var appliedNames []string
	if err := db.Model(&migrationRecord{}).Pluck("name", &appliedNames).Error; err != nil {
		return fmt.Errorf("load migration ledger: %w", err)
	}
	applied := make(map[string]struct{}, len(appliedNames))
	for _, name := range appliedNames {
		applied[name] = struct{}{}
	}

	for _, step := range definitionMigrations {
		if _, done := applied[step.name]; done {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := step.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: step.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", step.name, err)
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", step.name))
		}
	}
	return nil
}

// purgeUnknownDefinitionKinds drops rows left behind by retired dataset kinds.
func purgeUnknownDefinitionKinds(db *gorm.DB) error {
	known := []string{definitions.MetaKey}
	for _, kind := range definitions.Kinds() {
		known = append(known, kind.String())
	}
	return db.Where("kind NOT IN ?", known).Delete(&store.Row{}).Error
}
