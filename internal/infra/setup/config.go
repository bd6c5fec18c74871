package setup

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-redis/redis/v8"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DBConfig 数据库连接参数
type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
	// SlowQuery 超过该时长的 SQL 以 Warn 级别记录
	SlowQuery time.Duration
}

// DSN 构建 MySQL 连接字符串 (utf8mb4, parseTime, UTC)
func (c DBConfig) DSN() (string, error) {
	if c.User == "" {
		return "", fmt.Errorf("database user is not configured")
	}
	if c.Name == "" {
		return "", fmt.Errorf("database name is not configured")
	}
	host, port := c.Host, c.Port
	if host == "" {
		host = "127.0.0.1"
	}
	if port == "" {
		port = "3306"
	}
	cfg := mysqldriver.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, port)
	cfg.DBName = c.Name
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN(), nil
}

// InitDB 初始化数据库连接
func InitDB(c DBConfig) (*gorm.DB, error) {
	dsn, err := c.DSN()
	if err != nil {
		return nil, err
	}
	slow := c.SlowQuery
	if slow <= 0 {
		slow = 500 * time.Millisecond
	}
	gormLogger := logger.New(logrus.StandardLogger(), logger.Config{
		SlowThreshold:             slow,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("connect to MySQL: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping MySQL: %w", err)
	}
	logrus.WithFields(logrus.Fields{"host": c.Host, "db": c.Name}).Info("MySQL connected")
	return db, nil
}

// InitRedis 初始化 Redis 连接
func InitRedis(addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address is not configured")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 5,
		MaxConnAge:   30 * time.Minute,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping Redis: %w", err)
	}
	logrus.WithField("addr", addr).Info("Redis connected")
	return client, nil
}
