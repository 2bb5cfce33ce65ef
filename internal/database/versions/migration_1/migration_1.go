package migration_1

import (
	"fmt"

	"gorm.io/gorm"
)

type EpochMetric struct {
	GradNorm   float64 `gorm:"default:0"`
	DurationMs int64   `gorm:"default:0"`
}

func Migration(db *gorm.DB) error {
	for _, column := range []string{"grad_norm", "duration_ms"} {
		if err := db.Migrator().AddColumn(&EpochMetric{}, column); err != nil {
			return fmt.Errorf("error adding %s column: %w", column, err)
		}
		if err := db.Model(&EpochMetric{}).
			Where(column + " IS NULL").
			Update(column, 0).Error; err != nil {
			return fmt.Errorf("error setting default value for %s: %w", column, err)
		}
	}

	return nil
}

func Rollback(db *gorm.DB) error {
	for _, column := range []string{"grad_norm", "duration_ms"} {
		if err := db.Migrator().DropColumn(&EpochMetric{}, column); err != nil {
			return fmt.Errorf("error dropping %s column: %w", column, err)
		}
	}
	return nil
}
