/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/duocast/internal/models"
)

// Migrate applies database schema migrations using GORM auto-migrate, then
// repairs any state left behind by an unclean shutdown.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.Room{},
		&models.Participant{},
	); err != nil {
		return err
	}

	return recoverFromUncleanShutdown(database)
}

// recoverFromUncleanShutdown resets live-state mirrors. Rooms cannot be
// active before their routers exist, and the participants table only tracks
// currently connected clients, so after a crash both carry stale truth.
func recoverFromUncleanShutdown(database *gorm.DB) error {
	err := database.Model(&models.Room{}).
		Where("is_active = ? OR hls_url != ''", true).
		Updates(map[string]any{"is_active": false, "hls_url": ""}).Error
	if err != nil {
		return fmt.Errorf("deactivate stale rooms: %w", err)
	}

	if err := database.Exec("DELETE FROM participants").Error; err != nil {
		return fmt.Errorf("clear stale participants: %w", err)
	}

	return nil
}
