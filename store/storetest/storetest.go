// Package storetest opens throwaway in-memory databases for package tests.
package storetest

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/jellyfish/models"
)

// Open returns a migrated in-memory SQLite database private to t.
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection keeps the memory database alive and serializes writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Post{}, &models.Vote{}))
	return db
}

// SeedUser inserts a user whose email is derived from name.
func SeedUser(t *testing.T, db *gorm.DB, name string) models.User {
	t.Helper()
	u := models.User{Username: name, Email: name + "@example.com", PasswordHash: "x"}
	require.NoError(t, db.Create(&u).Error)
	return u
}

// SeedPost inserts a post by creator created at the given instant.
func SeedPost(t *testing.T, db *gorm.DB, creator uint, title string, at time.Time) models.Post {
	t.Helper()
	p := models.Post{Title: title, Text: title + " body", CreatorID: creator, CreatedAt: at}
	require.NoError(t, db.Create(&p).Error)
	return p
}
