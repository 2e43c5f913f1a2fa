package connection

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/forbearing/querygate/config"
	pkgzap "github.com/forbearing/querygate/logger/zap"
)

// Open dials the live database selected by DB_ENGINE (spec.md §6) and
// returns it wrapped as a Connection. Mirrors the teacher's
// database/postgres.New / database/sqlite.New pattern: one gorm.Open call
// per driver, sharing the same GormLogger sink.
func Open() (Connection, error) {
	var (
		db  *gorm.DB
		err error
	)

	switch config.App.Database.Engine {
	case "postgresql", "postgres":
		db, err = gorm.Open(postgres.Open(postgresDSN()), &gorm.Config{Logger: pkgzap.NewGormLogger()})
	case "mysql":
		db, err = gorm.Open(mysql.Open(mysqlDSN()), &gorm.Config{Logger: pkgzap.NewGormLogger()})
	case "sqlite", "":
		db, err = gorm.Open(sqlite.Open(config.App.Sqlite.Path), &gorm.Config{Logger: pkgzap.NewGormLogger()})
	default:
		return nil, errors.Newf("unsupported database engine %q", config.App.Database.Engine)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", config.App.Database.Engine)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "retrieving underlying sql.DB")
	}
	sqlDB.SetMaxOpenConns(config.App.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.App.Database.MaxIdleConns)

	return New(db), nil
}

func postgresDSN() string {
	cfg := config.App.Postgres
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		cfg.Host, cfg.Username, cfg.Password, cfg.Database, cfg.Port, cfg.SSLMode)
}

func mysqlDSN() string {
	cfg := config.App.MySQL
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
}
