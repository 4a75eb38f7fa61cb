package database

import (
	"database/sql"
	"fmt"
	"storefront/internal/pkg/config"
	"storefront/pkg/logger"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // 注册 pgx 驱动
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DB 共享同一个连接池的 ORM 与原生 SQL 句柄
// 连接池是进程内唯一的共享可变资源
type DB struct {
	Gorm *gorm.DB
	SQLX *sqlx.DB
	raw  *sql.DB
}

// DSN 拼接 pgx 连接串
func DSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		cfg.Host, cfg.User, cfg.Password, cfg.DBName, cfg.Port, cfg.SSLMode, cfg.TimeZone)
}

// InitDatabase 初始化数据库连接
func InitDatabase(cfg config.DatabaseConfig, debug bool) (*DB, error) {
	sqlDB, err := sql.Open("pgx", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// 连接池配置
	configureConnectionPool(sqlDB, cfg)

	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}

	// 配置 GORM，复用同一个 *sql.DB
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(level),
		TranslateError:                           true, // 唯一约束冲突转换为 gorm.ErrDuplicatedKey
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{
		Gorm: gdb,
		SQLX: sqlx.NewDb(sqlDB, "pgx"),
		raw:  sqlDB,
	}, nil
}

// Ping 健康检查
func (d *DB) Ping() error {
	return d.raw.Ping()
}

// Close 关闭连接池
func (d *DB) Close() error {
	return d.raw.Close()
}

// configureConnectionPool 配置数据库连接池
func configureConnectionPool(sqlDB *sql.DB, cfg config.DatabaseConfig) {
	maxOpen := cfg.MaxOpen
	if maxOpen <= 0 {
		maxOpen = 100
	}
	maxIdle := cfg.MaxIdle
	if maxIdle <= 0 {
		maxIdle = maxOpen / 10
	}

	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(time.Minute * 30)

	logger.Log.Info("Database connection pool configured",
		zap.Int("max_open", maxOpen),
		zap.Int("max_idle", maxIdle),
	)
}
