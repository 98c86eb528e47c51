// Package gemgorm provides a GORM backed data source for gem mappers
package gemgorm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/lemmego/gem"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const idColumn = "id"

// =====================================
// Source Implementation
// =====================================

// Source reads and writes the rows of one table as gem records.
// The table must have an integer primary key column named "id".
type Source struct {
	db     *gorm.DB
	config gem.Config
	table  string
}

// Open connects to the database described by config and serves config.Table
func Open(config gem.Config) (*Source, error) {
	if config.Table == "" {
		return nil, gem.NewError(gem.ErrorTypeValidation, "gorm: table is required")
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}
	switch config.OptionString("gorm", "log_level", "") {
	case "silent":
		gormConfig.Logger = logger.Default.LogMode(logger.Silent)
	case "error":
		gormConfig.Logger = logger.Default.LogMode(logger.Error)
	case "warn":
		gormConfig.Logger = logger.Default.LogMode(logger.Warn)
	case "info":
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	}

	var dialector gorm.Dialector
	switch gem.NormalizeDriver(config.Driver) {
	case gem.DriverPostgres:
		dialector = postgres.Open(buildPostgresDSN(config))
	case gem.DriverMySQL:
		dialector = mysql.Open(buildMySQLDSN(config))
	case gem.DriverSQLite:
		dialector = sqlite.Open(config.Database)
	case gem.DriverMSSQL:
		dialector = sqlserver.Open(buildSQLServerDSN(config))
	default:
		return nil, gem.Error{
			Type:    gem.ErrorTypeUnsupported,
			Message: fmt.Sprintf("unsupported driver: %s", config.Driver),
		}
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, gem.Error{
			Type:    gem.ErrorTypeConnection,
			Message: "failed to connect to database",
			Cause:   err,
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, gem.Error{
			Type:    gem.ErrorTypeConnection,
			Message: "failed to get underlying sql.DB",
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

	return &Source{db: db, config: config, table: config.Table}, nil
}

// New wraps an existing connection
func New(db *gorm.DB, table string) *Source {
	return &Source{db: db, table: table, config: gem.Config{Table: table}}
}

// DB returns the underlying connection
func (s *Source) DB() *gorm.DB { return s.db }

// Table returns the served table
func (s *Source) Table() string { return s.table }

// Fetch implements gem.DataSource
func (s *Source) Fetch(ctx context.Context, id int64) (gem.Record, bool, error) {
	var rows []map[string]interface{}
	err := s.db.WithContext(ctx).
		Table(s.table).
		Where(clause.Eq{Column: clause.Column{Name: idColumn}, Value: id}).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, false, convertGormError(err)
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

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if id == 0 {
			var highest int64
			if err := tx.Table(s.table).Select("COALESCE(MAX(" + idColumn + "), 0)").Scan(&highest).Error; err != nil {
				return err
			}
			id = highest + 1
		}
		row[idColumn] = id
		return tx.Table(s.table).Create(row).Error
	})
	if err != nil {
		return 0, convertGormError(err)
	}
	return id, nil
}

// Update implements gem.Writer
func (s *Source) Update(ctx context.Context, id int64, rec gem.Record) error {
	row := maps.Clone(map[string]interface{}(rec))
	delete(row, idColumn)

	db := s.db.WithContext(ctx)
	where := clause.Eq{Column: clause.Column{Name: idColumn}, Value: id}
	if len(row) > 0 {
		result := db.Table(s.table).Where(where).Updates(row)
		if result.Error != nil {
			return convertGormError(result.Error)
		}
		if result.RowsAffected > 0 {
			return nil
		}
	}

	// some drivers report zero affected rows when nothing changed
	var count int64
	if err := db.Table(s.table).Where(where).Count(&count).Error; err != nil {
		return convertGormError(err)
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
	result := s.db.WithContext(ctx).Exec("DELETE FROM ? WHERE ? = ?",
		clause.Table{Name: s.table}, clause.Column{Name: idColumn}, id)
	if result.Error != nil {
		return convertGormError(result.Error)
	}
	if result.RowsAffected == 0 {
		return gem.Error{
			Type:    gem.ErrorTypeNotFound,
			Message: fmt.Sprintf("%s: record %d not found", s.table, id),
		}
	}
	return nil
}

// Health checks the database connection health
func (s *Source) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return gem.Error{
			Type:    gem.ErrorTypeConnection,
			Message: "failed to get underlying sql.DB",
			Cause:   err,
		}
	}
	return sqlDB.Ping()
}

// Close closes the database connection
func (s *Source) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ProviderInfo returns information about this adapter
func (s *Source) ProviderInfo() gem.ProviderInfo {
	return gem.ProviderInfo{
		Name:         "GORM",
		Version:      "1.0.0",
		DatabaseType: gem.DatabaseTypeSQL,
		Features:     []gem.Feature{gem.FeatureWrite, gem.FeatureSequence, gem.FeatureIndexing, gem.FeatureRawSQL},
	}
}

var _ gem.Provider = (*Source)(nil)

// =====================================
// Error Conversion
// =====================================

// convertGormError converts GORM errors to gem errors
func convertGormError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return gem.Error{
			Type:    gem.ErrorTypeNotFound,
			Message: "record not found",
			Cause:   err,
		}
	case errors.Is(err, gorm.ErrNotImplemented), errors.Is(err, gorm.ErrUnsupportedDriver):
		return gem.Error{
			Type:    gem.ErrorTypeUnsupported,
			Message: "operation not implemented",
			Cause:   err,
		}
	case errors.Is(err, gorm.ErrMissingWhereClause):
		return gem.Error{
			Type:    gem.ErrorTypeValidation,
			Message: "missing where clause",
			Cause:   err,
		}
	case errors.Is(err, gorm.ErrInvalidData), errors.Is(err, gorm.ErrInvalidValue):
		return gem.Error{
			Type:    gem.ErrorTypeValidation,
			Message: "invalid data",
			Cause:   err,
		}
	case errors.Is(err, context.DeadlineExceeded):
		return gem.Error{
			Type:    gem.ErrorTypeTimeout,
			Message: "operation timeout",
			Cause:   err,
		}
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "duplicate") || strings.Contains(errStr, "unique"):
		return gem.Error{
			Type:    gem.ErrorTypeDuplicate,
			Message: "duplicate key violation",
			Cause:   err,
		}
	case strings.Contains(errStr, "no such table") || strings.Contains(errStr, "no such column"):
		return gem.Error{
			Type:    gem.ErrorTypeDatabase,
			Message: "schema mismatch",
			Cause:   err,
		}
	case strings.Contains(errStr, "timeout"):
		return gem.Error{
			Type:    gem.ErrorTypeTimeout,
			Message: "operation timeout",
			Cause:   err,
		}
	case strings.Contains(errStr, "connection"):
		return gem.Error{
			Type:    gem.ErrorTypeConnection,
			Message: "connection error",
			Cause:   err,
		}
	}

	return gem.Error{
		Type:    gem.ErrorTypeDatabase,
		Message: "database operation failed",
		Cause:   err,
	}
}

// =====================================
// DSN Builders
// =====================================

func buildPostgresDSN(config gem.Config) string {
	if config.ConnectionURL != "" {
		return config.ConnectionURL
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		config.Host, config.Port, config.Username, config.Password, config.Database)

	if config.SSL.Enabled {
		dsn += " sslmode=" + config.SSL.Mode
		if config.SSL.CertFile != "" {
			dsn += " sslcert=" + config.SSL.CertFile
		}
		if config.SSL.KeyFile != "" {
			dsn += " sslkey=" + config.SSL.KeyFile
		}
		if config.SSL.CAFile != "" {
			dsn += " sslrootcert=" + config.SSL.CAFile
		}
	} else {
		dsn += " sslmode=disable"
	}

	return dsn
}

func buildMySQLDSN(config gem.Config) string {
	if config.ConnectionURL != "" {
		return config.ConnectionURL
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		config.Username, config.Password, config.Host, config.Port, config.Database)
	if config.SSL.Enabled {
		dsn += "&tls=" + config.SSL.Mode
	}
	return dsn
}

func buildSQLServerDSN(config gem.Config) string {
	if config.ConnectionURL != "" {
		return config.ConnectionURL
	}
	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s",
		config.Username, config.Password, config.Host, config.Port, config.Database)
}
