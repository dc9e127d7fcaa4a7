package cvedb

import (
	"database/sql"
	"embed"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// runMigrations 执行所有未应用的迁移，可重复调用
func runMigrations(db *sql.DB) (uint, error) {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return 0, errors.Wrap(err, "创建迁移驱动失败")
	}

	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return 0, errors.Wrap(err, "读取迁移文件失败")
	}

	// 不调用 m.Close()，它会关闭传入的 *sql.DB
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return 0, errors.Wrap(err, "创建迁移器失败")
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, errors.Wrap(err, "执行迁移失败")
	}

	version, _, err := m.Version()
	if err != nil {
		return 0, errors.Wrap(err, "读取迁移版本失败")
	}
	return version, nil
}
