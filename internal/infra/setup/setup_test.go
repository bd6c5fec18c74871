package setup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"hostel-chat/internal/domain"
)

func TestDBConfig_DSN(t *testing.T) {
	dsn, err := DBConfig{User: "chat", Password: "p@ss", Host: "db", Name: "hostel"}.DSN()

	require.NoError(t, err)
	assert.Contains(t, dsn, "chat:p@ss@tcp(db:3306)/hostel")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")

	_, err = DBConfig{Name: "hostel"}.DSN()
	assert.Error(t, err, "缺少用户名时应报错")
}

func TestMigrateDB_SeedsDefaultsOnce(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	defer sqlDB.Close()

	require.NoError(t, MigrateDB(db))
	require.NoError(t, db.Model(&domain.ChatSettings{}).Where("id = ?", 1).Update("retention_period_hours", 72).Error)

	// 再次迁移不覆盖管理员的设置
	require.NoError(t, MigrateDB(db))

	var settings domain.ChatSettings
	require.NoError(t, db.First(&settings, 1).Error)
	assert.Equal(t, 72, settings.RetentionPeriodHours)
	assert.True(t, settings.BackupEnabled)

	assert.Error(t, MigrateDB(nil))
}
