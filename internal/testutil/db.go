// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"testing"

	"github.com/disblox/disblox-api/internal/database"
	"github.com/disblox/disblox-api/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB returns a migrated in-memory database.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

// CreateUser inserts a user with the given Discord id.
func CreateUser(t testing.TB, db *gorm.DB, discordID, username string) models.User {
	t.Helper()

	user := models.User{DiscordID: discordID, Username: username}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user
}

// GrantServer gives the user management access to a guild.
func GrantServer(t testing.TB, db *gorm.DB, user models.User, serverID string) models.UserServer {
	t.Helper()

	server := models.UserServer{GuildMembership: models.GuildMembership{
		UserID:     user.ID,
		ServerID:   serverID,
		ServerName: "Server " + serverID,
		Owner:      true,
	}}
	if err := db.Create(&server).Error; err != nil {
		t.Fatalf("failed to create user server: %v", err)
	}
	return server
}
