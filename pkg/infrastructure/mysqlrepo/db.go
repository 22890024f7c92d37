package mysqlrepo

import (
	"context"
	"embed"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"storefront/pkg/domain/model"
)

const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 5 * time.Minute
	DefaultConnMaxIdleTime = 30 * time.Second
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NormalizeDSN forces the options the repositories rely on: DATETIME columns
// scan into time.Time in UTC.
func NormalizeDSN(dsn string, multiStatements bool) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", errors.Wrap(err, "invalid mysql dsn")
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.MultiStatements = multiStatements
	return cfg.FormatDSN(), nil
}

func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	normalized, err := NormalizeDSN(dsn, false)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open("mysql", normalized)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)
	db.SetConnMaxIdleTime(DefaultConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}
	return db, nil
}

// Migrate applies the embedded schema migrations on a dedicated connection.
func Migrate(dsn string) error {
	normalized, err := NormalizeDSN(dsn, true)
	if err != nil {
		return err
	}
	db, err := sqlx.Open("mysql", normalized)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return errors.Wrap(err, "failed to load migrations")
	}
	driver, err := migratemysql.WithInstance(db.DB, &migratemysql.Config{})
	if err != nil {
		db.Close()
		return errors.Wrap(err, "failed to create migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", source, "mysql", driver)
	if err != nil {
		db.Close()
		return errors.Wrap(err, "failed to create migrator")
	}
	defer m.Close()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		log.Info("database schema is up to date")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to apply migrations")
	}
	version, _, _ := m.Version()
	log.WithField("version", version).Info("database migrated")
	return nil
}

// withTx runs fn in a transaction, committing only when fn succeeds.
func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return persistenceError(err, "begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.WithError(rbErr).Warn("failed to roll back transaction")
			}
			return
		}
		if commitErr := tx.Commit(); commitErr != nil {
			err = persistenceError(commitErr, "commit transaction")
		}
	}()

	return fn(tx)
}

type dbError struct {
	op    string
	cause error
}

func (e *dbError) Error() string   { return e.op + ": " + e.cause.Error() }
func (e *dbError) Unwrap() []error { return []error{model.ErrPersistence, e.cause} }

// persistenceError marks a driver failure with the persistence error kind.
// Domain errors pass through unchanged.
func persistenceError(err error, op string) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{model.ErrValidation, model.ErrNotFound, model.ErrConflict, model.ErrPersistence} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return &dbError{op: op, cause: err}
}

func mysqlErrorNumber(err error) uint16 {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number
	}
	return 0
}

const (
	errDuplicateEntry  = 1062
	errRowIsReferenced = 1451
	errNoReferencedRow = 1452
)
