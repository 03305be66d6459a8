package database

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Migrate creates or updates the schema for the given models.
func Migrate(db *gorm.DB, models ...interface{}) error {
	log.Info().Msg("Running database migrations...")

	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info().Int("models", len(models)).Msg("Database migrations completed")
	return nil
}

// DropAllTables drops the tables behind the given models. Test helper, never
// called by the services.
func DropAllTables(db *gorm.DB, models ...interface{}) error {
	log.Warn().Msg("Dropping database tables...")

	for _, model := range models {
		if err := db.Migrator().DropTable(model); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}

	log.Info().Msg("All tables dropped")
	return nil
}

// HasTable reports whether the table behind the model exists.
func HasTable(db *gorm.DB, model interface{}) bool {
	return db.Migrator().HasTable(model)
}
