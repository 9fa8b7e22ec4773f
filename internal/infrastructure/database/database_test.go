package database

import (
	"path/filepath"
	"testing"

	"rafflesystem/internal/config"
	"rafflesystem/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, ":memory:", sqliteDSN(":memory:"))
	assert.Equal(t, "raffle.db?_journal_mode=WAL&_busy_timeout=5000", sqliteDSN("raffle.db"))
	assert.Equal(t, "raffle.db?mode=ro", sqliteDSN("raffle.db?mode=ro"))
}

func TestOpenFileAllowsMultipleConns(t *testing.T) {
	db, err := OpenFile(filepath.Join(t.TempDir(), "raffle.db"), 4)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()

	assert.Equal(t, 4, sqlDB.Stats().MaxOpenConnections)

	var mode string
	require.NoError(t, db.Raw("PRAGMA journal_mode").Scan(&mode).Error)
	assert.Equal(t, "wal", mode)

	require.NoError(t, db.Create(&model.UserAccount{UserID: "u1", Email: "a@b.c", Role: model.RoleUser, ClaimedTiers: model.StringList{}}).Error)
	var n int64
	require.NoError(t, db.Model(&model.UserAccount{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestOpenMemoryPinsSingleConn(t *testing.T) {
	db, err := Open(&config.DatabaseConfig{Driver: "sqlite", SQLitePath: ":memory:", MaxOpenConns: 8}, logger.Silent)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()

	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(&config.DatabaseConfig{Driver: "postgres"}, logger.Silent)
	assert.Error(t, err)
}
