// Package gembun provides a Bun backed data source for gem mappers
package gembun

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lemmego/gem"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
	_ "modernc.org/sqlite"
)

const idColumn = "id"

// =====================================
// Source Implementation
// =====================================

// Source reads and writes the rows of one table as gem records through Bun's
// map models. The table must have an integer primary key column named "id".
type Source struct {
	db     *bun.DB
	config gem.Config
	table  string
}

// Open connects to the database described by config and serves config.Table.
//
// Options under "bun":
//
//	log_level:     silent (default), info or debug; anything but silent installs bundebug
//	sqlite_driver: sqlite3 (cgo, default) or sqlite (pure Go)
//	pg_driver:     pq (default) or pgdriver
func Open(config gem.Config) (*Source, error) {
	if config.Table == "" {
		return nil, gem.NewError(gem.ErrorTypeValidation, "bun: table is required")
	}

	var sqlDB *sql.DB
	var err error

	driver := gem.NormalizeDriver(config.Driver)
	switch driver {
	case gem.DriverPostgres:
		if config.OptionString("bun", "pg_driver", "pq") == "pgdriver" {
			sqlDB = createPgDriverConnection(config)
		} else {
			sqlDB, err = createPostgresConnection(config)
		}
	case gem.DriverMySQL:
		sqlDB, err = createMySQLConnection(config)
	case gem.DriverSQLite:
		sqlDB, err = createSQLiteConnection(config)
	default:
		return nil, gem.Error{
			Type:    gem.ErrorTypeUnsupported,
			Message: fmt.Sprintf("unsupported driver: %s", config.Driver),
		}
	}
	if err != nil {
		return nil, gem.Error{
			Type:    gem.ErrorTypeConnection,
			Message: "failed to connect to database",
			Cause:   err,
		}
	}

	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	if config.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	var bunDB *bun.DB
	switch driver {
	case gem.DriverPostgres:
		bunDB = bun.NewDB(sqlDB, pgdialect.New())
	case gem.DriverMySQL:
		bunDB = bun.NewDB(sqlDB, mysqldialect.New())
	case gem.DriverSQLite:
		bunDB = bun.NewDB(sqlDB, sqlitedialect.New())
	}

	if logLevel := config.OptionString("bun", "log_level", "silent"); logLevel != "silent" {
		bunDB.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(logLevel == "debug"),
		))
	}

	return &Source{db: bunDB, config: config, table: config.Table}, nil
}

// New wraps an existing connection
func New(db *bun.DB, table string) *Source {
	return &Source{db: db, table: table, config: gem.Config{Table: table}}
}

// DB returns the underlying connection
func (s *Source) DB() *bun.DB { return s.db }

// Table returns the served table
func (s *Source) Table() string { return s.table }

// Dialect returns the driver name of the connected database
func (s *Source) Dialect() string {
	switch s.db.Dialect().Name() {
	case dialect.PG:
		return gem.DriverPostgres
	case dialect.MySQL:
		return gem.DriverMySQL
	case dialect.SQLite:
		return gem.DriverSQLite
	default:
		return "unknown"
	}
}

// Fetch implements gem.DataSource
func (s *Source) Fetch(ctx context.Context, id int64) (gem.Record, bool, error) {
	var rows []map[string]interface{}
	err := s.db.NewSelect().
		TableExpr("?", bun.Ident(s.table)).
		Where("? = ?", bun.Ident(idColumn), id).
		Limit(1).
		Scan(ctx, &rows)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, false, convertBunError(err)
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return gem.Record(rows[0]), true, nil
}

// Insert implements gem.Writer. Without a positive id in rec the next id is
// taken from the table's current maximum.
func (s *Source) Insert(ctx context.Context, rec gem.Record) (int64, error) {
	row := maps.Clone(map[string]interface{}(rec))
	id := gem.IDFromRecord(rec)

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if id == 0 {
			var highest int64
			err := tx.NewSelect().
				TableExpr("?", bun.Ident(s.table)).
				ColumnExpr("COALESCE(MAX(?), 0)", bun.Ident(idColumn)).
				Scan(ctx, &highest)
			if err != nil {
				return err
			}
			id = highest + 1
		}
		row[idColumn] = id
		_, err := tx.NewInsert().Model(&row).TableExpr("?", bun.Ident(s.table)).Exec(ctx)
		return err
	})
	if err != nil {
		return 0, convertBunError(err)
	}
	return id, nil
}

// Update implements gem.Writer
func (s *Source) Update(ctx context.Context, id int64, rec gem.Record) error {
	row := maps.Clone(map[string]interface{}(rec))
	delete(row, idColumn)

	if len(row) > 0 {
		res, err := s.db.NewUpdate().
			Model(&row).
			TableExpr("?", bun.Ident(s.table)).
			Where("? = ?", bun.Ident(idColumn), id).
			Exec(ctx)
		if err != nil {
			return convertBunError(err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			return nil
		}
	}

	// some drivers report zero affected rows when nothing changed
	count, err := s.db.NewSelect().
		TableExpr("?", bun.Ident(s.table)).
		Where("? = ?", bun.Ident(idColumn), id).
		Count(ctx)
	if err != nil {
		return convertBunError(err)
	}
	if count == 0 {
		return gem.Error{
			Type:    gem.ErrorTypeNotFound,
			Message: fmt.Sprintf("%s: record %d not found", s.table, id),
		}
	}
	return nil
}

// Delete implements gem.Writer
func (s *Source) Delete(ctx context.Context, id int64) error {
	res, err := s.db.NewDelete().
		TableExpr("?", bun.Ident(s.table)).
		Where("? = ?", bun.Ident(idColumn), id).
		Exec(ctx)
	if err != nil {
		return convertBunError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return gem.Error{
			Type:    gem.ErrorTypeNotFound,
			Message: fmt.Sprintf("%s: record %d not found", s.table, id),
		}
	}
	return nil
}

// Health checks the database connection health
func (s *Source) Health() error {
	return s.db.Ping()
}

// Close closes the database connection
func (s *Source) Close() error {
	return s.db.Close()
}

// ProviderInfo returns information about this adapter
func (s *Source) ProviderInfo() gem.ProviderInfo {
	return gem.ProviderInfo{
		Name:         "Bun",
		Version:      "1.0.0",
		DatabaseType: gem.DatabaseTypeSQL,
		Features:     []gem.Feature{gem.FeatureWrite, gem.FeatureSequence, gem.FeatureIndexing, gem.FeatureRawSQL},
	}
}

var _ gem.Provider = (*Source)(nil)

// =====================================
// Connection Helpers
// =====================================

func createPostgresConnection(config gem.Config) (*sql.DB, error) {
	return sql.Open("postgres", buildPostgresDSN(config))
}

// createPgDriverConnection uses Bun's own pure-Go Postgres driver
func createPgDriverConnection(config gem.Config) *sql.DB {
	connector := pgdriver.NewConnector(pgdriver.WithDSN(buildPostgresDSN(config)))
	return sql.OpenDB(connector)
}

func createMySQLConnection(config gem.Config) (*sql.DB, error) {
	if config.ConnectionURL != "" {
		return sql.Open("mysql", config.ConnectionURL)
	}

	mysqlConfig := mysql.NewConfig()
	mysqlConfig.User = config.Username
	mysqlConfig.Passwd = config.Password
	mysqlConfig.Net = "tcp"
	mysqlConfig.Addr = fmt.Sprintf("%s:%d", config.Host, config.Port)
	mysqlConfig.DBName = config.Database
	mysqlConfig.ParseTime = true
	if config.SSL.Enabled {
		mysqlConfig.TLSConfig = config.SSL.Mode
	}

	return sql.Open("mysql", mysqlConfig.FormatDSN())
}

// createSQLiteConnection opens "sqlite3" (mattn, cgo) or "sqlite" (modernc, pure Go)
func createSQLiteConnection(config gem.Config) (*sql.DB, error) {
	driverName := config.OptionString("bun", "sqlite_driver", "sqlite3")
	if driverName != "sqlite" && driverName != "sqlite3" {
		return nil, fmt.Errorf("unknown sqlite driver %q", driverName)
	}
	return sql.Open(driverName, config.Database)
}

func buildPostgresDSN(config gem.Config) string {
	if config.ConnectionURL != "" {
		return config.ConnectionURL
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		config.Username, config.Password, config.Host, config.Port, config.Database)

	params := []string{}
	if config.SSL.Enabled {
		params = append(params, "sslmode="+config.SSL.Mode)
		if config.SSL.CertFile != "" {
			params = append(params, "sslcert="+config.SSL.CertFile)
		}
		if config.SSL.KeyFile != "" {
			params = append(params, "sslkey="+config.SSL.KeyFile)
		}
		if config.SSL.CAFile != "" {
			params = append(params, "sslrootcert="+config.SSL.CAFile)
		}
	} else {
		params = append(params, "sslmode=disable")
	}
	return dsn + "?" + strings.Join(params, "&")
}

// =====================================
// Error Conversion
// =====================================

// convertBunError converts Bun and driver errors to gem errors
func convertBunError(err error) error {
	if err == nil {
		return nil
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		return gem.Error{
			Type:    gem.ErrorTypeDuplicate,
			Message: "duplicate key violation",
			Cause:   err,
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return gem.Error{
			Type:    gem.ErrorTypeNotFound,
			Message: "record not found",
			Cause:   err,
		}
	case errors.Is(err, context.DeadlineExceeded), strings.Contains(msg, "timeout"):
		return gem.Error{
			Type:    gem.ErrorTypeTimeout,
			Message: "operation timeout",
			Cause:   err,
		}
	case strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique"):
		return gem.Error{
			Type:    gem.ErrorTypeDuplicate,
			Message: "duplicate key violation",
			Cause:   err,
		}
	case strings.Contains(msg, "connection"):
		return gem.Error{
			Type:    gem.ErrorTypeConnection,
			Message: "connection error",
			Cause:   err,
		}
	default:
		return gem.Error{
			Type:    gem.ErrorTypeDatabase,
			Message: "database operation failed",
			Cause:   err,
		}
	}
}
