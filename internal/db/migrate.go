package db

import (
	"github.com/suPer8Hu/multichat/internal/chat"
	"github.com/suPer8Hu/multichat/internal/models"
	"gorm.io/gorm"
)

// AutoMigrate creates or updates every table the service owns.
func AutoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.User{},
		&models.Plan{},
		&models.Subscription{},
		&models.UsageLog{},
		&chat.Session{},
		&chat.Message{},
	)
}
