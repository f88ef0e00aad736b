package bootstrap

import (
	"fmt"

	"gorm.io/gorm"

	"sheetwise/internal/models"
)

// Migrate ensures the job table exists with the expected schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Job{}); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	return nil
}
