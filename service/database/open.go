/*
 * @module service/database/open
 * @description 输出数据库连接初始化，支持 PostgreSQL 与 SQLite 两种后端
 * @architecture 数据访问层 - 连接管理
 * @documentReference DESIGN.md
 * @stateFlow 读取配置 -> 选择方言 -> 建立连接 -> 连通性检查
 * @rules 连接由调用方在运行结束后关闭；SQLite 限制为单连接，保证事务与后续读取看到同一数据库
 * @dependencies gorm.io/gorm, gorm.io/driver/postgres, gorm.io/driver/sqlite
 * @refs main.go, sink.go
 */

package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"microbiome-etl/service/config"
)

// Open 根据配置打开输出数据库
func Open(ctx context.Context, settings config.DatabaseSettings) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch settings.Driver {
	case config.DriverPostgres:
		dialector = postgres.Open(settings.DSN)
	case config.DriverSQLite:
		dialector = sqlite.Open(settings.SQLitePath)
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", settings.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取数据库连接池失败: %w", err)
	}
	if settings.Driver == config.DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("数据库连通性检查失败: %w", err)
	}

	slog.Info("数据库连接成功", "driver", settings.Driver)
	return db, nil
}

// Close 关闭数据库连接
func Close(db *gorm.DB) {
	if db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		slog.Error("获取数据库连接池失败", "error", err)
		return
	}
	if err := sqlDB.Close(); err != nil {
		slog.Error("关闭数据库连接失败", "error", err)
	}
}

// CheckSchemaExists 检查 PostgreSQL schema 是否存在
func CheckSchemaExists(db *gorm.DB, schemaName string) bool {
	var count int64
	db.Raw("SELECT COUNT(*) FROM information_schema.schemata WHERE schema_name = ?", schemaName).Scan(&count)
	return count > 0
}

// EnsureSchema 确保 PostgreSQL schema 存在，SQLite 下为空操作
func EnsureSchema(db *gorm.DB, schemaName string) error {
	if db.Dialector.Name() != config.DriverPostgres || schemaName == "" || schemaName == "public" {
		return nil
	}
	if CheckSchemaExists(db, schemaName) {
		return nil
	}

	slog.Info("开始创建 schema", "schema", schemaName)
	if err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pq.QuoteIdentifier(schemaName))).Error; err != nil {
		return fmt.Errorf("创建 schema %s 失败: %w", schemaName, err)
	}
	return nil
}
