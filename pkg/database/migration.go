package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type MigrationHandler struct {
	conn   *Connection
	config Config
	logger *zap.Logger
}

func NewMigrationHandler(conn *Connection, config Config) *MigrationHandler {
	return &MigrationHandler{
		conn:   conn,
		config: config,
		logger: zap.NewNop(),
	}
}

func (m *MigrationHandler) ApplyMigrations() error {
	m.logger.Info("╔═════════════════════════════════════════╗")
	m.logger.Info("║      STARTING DATABASE MIGRATION        ║")
	m.logger.Info("╚═════════════════════════════════════════╝")

	dsnConfig := fmt.Sprintf("postgres://%s", m.buildDSN())
	maskedDSN := m.getMaskedDSN(dsnConfig)

	m.logger.Info("Step 1: Initializing database connection",
		zap.String("database", m.config.DataSource.DBName),
		zap.String("host", m.config.DataSource.Host),
		zap.String("dsn", maskedDSN),
	)

	migrationsPath, err := m.getMigrationPath()
	if err != nil {
		m.logger.Error("Failed to get migrations path", zap.Error(err))
		return errors.Wrap(err, "failed to get migrations path")
	}

	m.logger.Info("Step 2: Creating migration instance",
		zap.String("migrations_path", migrationsPath),
	)

	migration, err := migrate.New(migrationsPath, dsnConfig)
	if err != nil {
		m.logger.Error("Failed to create migration instance", zap.Error(err))
		return errors.Wrap(err, "failed to create migration instance")
	}
	defer migration.Close()

	version, dirty, err := migration.Version()
	if err != nil && err != migrate.ErrNilVersion {
		m.logger.Warn("Could not get current migration version", zap.Error(err))
	} else {
		m.logger.Info("Current database state",
			zap.Uint("version", version),
			zap.Bool("dirty", dirty),
		)
	}

	m.logger.Info("Step 3: Applying pending migrations...")

	if err := migration.Up(); err != nil {
		if err == migrate.ErrNoChange {
			m.logger.Info("► Database is up to date, no migrations needed")
		} else {
			m.logger.Error("Migration failed", zap.Error(err))
			return errors.Wrap(err, "failed to apply migrations")
		}
	} else {
		newVersion, newDirty, verErr := migration.Version()
		if verErr == nil {
			m.logger.Info("► Successfully applied migrations",
				zap.Uint("from_version", version),
				zap.Uint("to_version", newVersion),
				zap.Bool("dirty", newDirty),
			)
		}
	}

	m.logger.Info("╔═════════════════════════════════════════╗")
	m.logger.Info("║      MIGRATION PROCESS COMPLETED        ║")
	m.logger.Info("╚═════════════════════════════════════════╝")

	return nil
}

func (m *MigrationHandler) buildDSN() string {
	sslMode := m.config.DataSource.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("%s:%s@%s:%d/%s?sslmode=%s",
		m.config.DataSource.User,
		m.config.DataSource.Password,
		m.config.DataSource.Host,
		m.config.DataSource.Port,
		m.config.DataSource.DBName,
		sslMode,
	)
}

func (m *MigrationHandler) getMigrationPath() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", errors.Wrap(err, "failed to get working directory")
	}

	migrationsPath := filepath.Join(wd, "migrations")

	if _, err := os.Stat(migrationsPath); os.IsNotExist(err) {
		return "", errors.Wrap(err, "migrations directory not found")
	}

	files, err := os.ReadDir(migrationsPath)
	if err != nil {
		return "", errors.Wrap(err, "failed to read migrations directory")
	}

	m.logger.Info("found migration files",
		zap.Int("count", len(files)),
		zap.String("path", migrationsPath),
	)

	return fmt.Sprintf("file://%s", migrationsPath), nil
}

// RollbackMigration rolls back the last applied migration
func (m *MigrationHandler) RollbackMigration() error {
	m.logger.Info("╔═════════════════════════════════════════╗")
	m.logger.Info("║     STARTING SINGLE STEP ROLLBACK      ║")
	m.logger.Info("╚═════════════════════════════════════════╝")

	dsnConfig := fmt.Sprintf("postgres://%s", m.buildDSN())
	maskedDSN := m.getMaskedDSN(dsnConfig)

	m.logger.Info("Step 1: Initializing database connection",
		zap.String("database", m.config.DataSource.DBName),
		zap.String("host", m.config.DataSource.Host),
		zap.String("dsn", maskedDSN),
	)

	migrationsPath, err := m.getMigrationPath()
	if err != nil {
		m.logger.Error("Failed to get migrations path", zap.Error(err))
		return errors.Wrap(err, "failed to get migrations path")
	}

	migration, err := migrate.New(migrationsPath, dsnConfig)
	if err != nil {
		m.logger.Error("Failed to create migration instance", zap.Error(err))
		return errors.Wrap(err, "failed to create migration instance")
	}
	defer func() {
		srcErr, dbErr := migration.Close()
		if srcErr != nil {
			m.logger.Error("Failed to close migration source", zap.Error(srcErr))
		}
		if dbErr != nil {
			m.logger.Error("Failed to close migration database", zap.Error(dbErr))
		}
	}()

	version, dirty, err := migration.Version()
	if err != nil {
		if err == migrate.ErrNilVersion {
			m.logger.Info("► Database is already at base version (no migrations applied)")
			return nil
		}
		m.logger.Error("Failed to get current migration version", zap.Error(err))
		return errors.Wrap(err, "failed to get current migration version")
	}

	if version == 0 {
		m.logger.Info("► Database is at base version, no rollback needed")
		return nil
	}

	if err := migration.Steps(-1); err != nil {
		if err == migrate.ErrNoChange {
			m.logger.Info("► No changes to rollback")
		} else {
			m.logger.Error("Rollback failed", zap.Error(err), zap.Uint("from_version", version))
			return errors.Wrap(err, "failed to rollback migration")
		}
	}

	newVersion, dirty, err := migration.Version()
	if err == nil {
		m.logger.Info("► Rollback completed successfully",
			zap.Uint("from_version", version),
			zap.Uint("to_version", newVersion),
			zap.Bool("dirty", dirty),
		)
	}

	m.logger.Info("╔═════════════════════════════════════════╗")
	m.logger.Info("║     SINGLE STEP ROLLBACK COMPLETE      ║")
	m.logger.Info("╚═════════════════════════════════════════╝")

	return nil
}

func (m *MigrationHandler) getMaskedDSN(dsn string) string {
	maskedDSN := dsn
	if m.config.DataSource.Password != "" {
		maskedDSN = strings.Replace(maskedDSN, m.config.DataSource.Password, "*****", 1)
	}
	return maskedDSN
}
