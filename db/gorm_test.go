package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VKMBot/config"
	"VKMBot/model"
)

func TestMySQLDSN(t *testing.T) {
	cfg := &config.Config{
		DBUser:     "bot",
		DBPassword: "p@ss",
		DBHost:     "db.local",
		DBPort:     "3307",
		DBName:     "vkmbot",
	}
	dsn := MySQLDSN(cfg)

	assert.Contains(t, dsn, "bot:p@ss@tcp(db.local:3307)/vkmbot?")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}

func TestOpenSQLiteAndMigrate(t *testing.T) {
	cfg := &config.Config{
		DBDriver:   "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "data", "bot.db"),
	}
	gdb, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(gdb))

	assert.True(t, gdb.Migrator().HasTable(&model.User{}))
	assert.True(t, gdb.Migrator().HasTable(&model.Download{}))
	assert.True(t, gdb.Migrator().HasColumn(&model.User{}, "last_reset_date"))

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(&config.Config{DBDriver: "oracle"})
	assert.Error(t, err)
}

func TestAutoMigrateNil(t *testing.T) {
	assert.Error(t, AutoMigrate(nil))
}
