package store

import (
	"fmt"
	"log/slog"
	"strings"
)

// SQL driver names understood by the backend factory.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Opts holds computed configuration for store construction.
type Opts struct {
	// DSN is the data source name for the selected backend.
	DSN string
	// Driver is the sql driver name; detected from the DSN when empty.
	Driver string
}

// Option configures store construction.
type Option func(*Opts)

// WithSQLiteDSN selects the SQLite backend with the given database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = DriverSQLite
	}
}

// WithPostgresDSN selects the PostgreSQL backend with the given connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = DriverPostgres
	}
}

// WithDSN sets the DSN and leaves backend selection to DetectDSNType.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType classifies a DSN as Postgres (URL scheme or key=value
// connection string) or SQLite (anything else, treated as a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DriverPostgres
	}
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "user=") || strings.Contains(dsn, "dbname=") {
		return DriverPostgres
	}
	return DriverSQLite
}

// NewStoreFromOptions builds the store backend the options select,
// detecting the driver from the DSN when none was forced.
func NewStoreFromOptions(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}
	driver := cfg.Driver
	if driver == "" {
		driver = DetectDSNType(cfg.DSN)
	}
	slog.Debug("store.NewStoreFromOptions: selecting backend", "driver", driver)
	switch driver {
	case DriverPostgres:
		return NewPostgresStore(opts...)
	case DriverSQLite:
		return NewSQLiteStore(opts...)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}
