package database

import (
	"context"
	"fmt"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DataSource describes a Postgres connection target.
type DataSource struct {
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	DBName   string `json:"name,omitempty"`
	SSLMode  string `json:"sslMode,omitempty"`
}

type Config struct {
	DataSource            DataSource    `json:"datasource"`
	MaxIdleConnections    int           `json:"maxIdleConnections,omitempty"`
	MaxOpenConnections    int           `json:"maxOpenConnections,omitempty"`
	MaxConnectionLifeTime time.Duration `json:"maxConnectionLifeTime,omitempty"`
	MaxConnectionIdleTime time.Duration `json:"maxConnectionIdleTime,omitempty"`
	Debug                 bool          `json:"debug,omitempty"`
}

// Connection wraps the store's pooled gorm handle. There is a single
// relational store with no read-replica topology.
type Connection struct {
	DB *gorm.DB
}

func Open(ctx context.Context, cfg Config) (*Connection, func(), error) {
	logger := ctxzap.Extract(ctx).Sugar()

	defer logger.Infof("store: connected using user %s at %s:%d/%s", cfg.DataSource.User, cfg.DataSource.Host, cfg.DataSource.Port, cfg.DataSource.DBName)

	sslMode := cfg.DataSource.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DataSource.Host, cfg.DataSource.Port, cfg.DataSource.User, cfg.DataSource.Password, cfg.DataSource.DBName, sslMode)

	gormLog := gormlogger.Default
	if !cfg.Debug {
		gormLog = gormlogger.Discard
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		PrepareStmt: true,
		Logger:      gormLog,
	})
	if err != nil {
		return nil, nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, errors.Wrap(err, "store: could not set sql.DB params")
	}
	sqlDB.SetConnMaxIdleTime(cfg.MaxConnectionIdleTime)
	sqlDB.SetConnMaxLifetime(cfg.MaxConnectionLifeTime)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConnections)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConnections)

	cleanup := func() {
		if err := sqlDB.Close(); err != nil {
			logger.Errorf("store: failed to close db connections %v", err)
		}
	}

	return &Connection{DB: db}, cleanup, nil
}
