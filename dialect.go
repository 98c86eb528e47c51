package gem

import (
	"slices"
	"strings"
)

// Driver constants
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverMSSQL    = "sqlserver"
	DriverMongoDB  = "mongodb"
	DriverRedis    = "redis"
	DriverS3       = "s3"
	DriverMemory   = "memory"
)

// SupportedDrivers is a list of all drivers the adapters accept
var SupportedDrivers = []string{
	DriverSQLite,
	DriverMySQL,
	DriverPostgres,
	DriverMSSQL,
	DriverMongoDB,
	DriverRedis,
	DriverS3,
	DriverMemory,
}

var driverAliases = map[string]string{
	"sqlite3":    DriverSQLite,
	"postgresql": DriverPostgres,
	"pgsql":      DriverPostgres,
	"pg":         DriverPostgres,
	"mssql":      DriverMSSQL,
	"mongo":      DriverMongoDB,
}

// NormalizeDriver maps driver aliases onto their canonical name
func NormalizeDriver(driver string) string {
	d := strings.ToLower(strings.TrimSpace(driver))
	if canonical, ok := driverAliases[d]; ok {
		return canonical
	}
	return d
}

// IsDriverSupported checks if the given driver, or one of its aliases, is supported
func IsDriverSupported(driver string) bool {
	return slices.Contains(SupportedDrivers, NormalizeDriver(driver))
}
