package model

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/KodaTao/chatweb/config"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := InitDB(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestInitDB(t *testing.T) {
	db := openTestDB(t)

	sqlDB, err := db.DB()
	require.NoError(t, err)

	for _, table := range []string{"users", "conversations", "messages"} {
		var count int
		err := sqlDB.QueryRow("SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "%s table not created", table)
	}

	var fk int
	require.NoError(t, sqlDB.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestInitDBUnsupportedDriver(t *testing.T) {
	_, err := InitDB(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAssistant.Valid())
	for _, bad := range []Role{"", "system", "model", "User"} {
		assert.False(t, bad.Valid(), string(bad))
	}
}

func TestMessageRejectsInvalidRole(t *testing.T) {
	db := openTestDB(t)

	user := User{Username: "alice", PasswordHash: "x"}
	require.NoError(t, db.Create(&user).Error)
	conv := Conversation{UserID: user.ID}
	require.NoError(t, db.Create(&conv).Error)

	err := db.Create(&Message{ConversationID: conv.ID, Role: "system", Content: "hi"}).Error
	assert.Error(t, err)

	var count int64
	db.Model(&Message{}).Count(&count)
	assert.Zero(t, count)
}

func TestCascadeDelete(t *testing.T) {
	db := openTestDB(t)

	user := User{Username: "bob", PasswordHash: "x"}
	require.NoError(t, db.Create(&user).Error)
	conv := Conversation{UserID: user.ID}
	require.NoError(t, db.Create(&conv).Error)
	assert.Equal(t, "", conv.Title)
	assert.Equal(t, "Conversation 1", conv.DisplayTitle())

	msgs := []Message{
		{ConversationID: conv.ID, Role: RoleUser, Content: "Hello"},
		{ConversationID: conv.ID, Role: RoleAssistant, Content: "Hi"},
	}
	require.NoError(t, db.Create(&msgs).Error)

	require.NoError(t, db.Delete(&User{}, user.ID).Error)

	var convCount, msgCount int64
	db.Model(&Conversation{}).Count(&convCount)
	db.Model(&Message{}).Count(&msgCount)
	assert.Zero(t, convCount)
	assert.Zero(t, msgCount)
}

func TestMessageString(t *testing.T) {
	m := Message{Role: RoleUser, Content: "一二三四五六七八九十一二三四五六七八九十一二三四五六七八九十一二三四五六七八九十超出"}
	assert.Equal(t, "user: 一二三四五六七八九十一二三四五六七八九十一二三四五六七八九十一二三四五六七八九十", m.String())
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "a.db?_foreign_keys=on&_busy_timeout=5000", sqliteDSN("a.db"))
	assert.Equal(t, "a.db?cache=shared&_foreign_keys=on&_busy_timeout=5000", sqliteDSN("a.db?cache=shared"))
	assert.Equal(t, "a.db?_fk=1&_busy_timeout=5000", sqliteDSN("a.db?_fk=1"))
	assert.Equal(t, "a.db?_fk=1&_timeout=100", sqliteDSN("a.db?_fk=1&_timeout=100"))
}
