// Package gorm provides GORM-based database operations for newsflow.
package gorm

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: Canonical entity collections
		{
			ID: "001_entity_collections",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&OrganizationRow{}); err != nil {
					return err
				}
				if err := tx.AutoMigrate(&SourceRow{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&StoryRow{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("organizations", "sources", "stories")
			},
		},

		// Migration 002: Fragment intake table
		{
			ID: "002_fragments",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&FragmentRow{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("fragments")
			},
		},

		// Migration 003: Clusters
		{
			ID: "003_clusters",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&ClusterRow{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("clusters")
			},
		},

		// Migration 004: Trend projection table
		{
			ID: "004_trends",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&TrendRow{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("trends")
			},
		},
	})

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("run gormigrate migrations: %w", err)
	}

	return nil
}
