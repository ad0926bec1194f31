package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2" // ClickHouse
	_ "github.com/duckdb/duckdb-go/v2"         // DuckDB
	_ "github.com/go-sql-driver/mysql"         // MySQL
	_ "github.com/jackc/pgx/v5/stdlib"         // PostgreSQL pgx/v5 driver
	_ "github.com/lib/pq"                      // PostgreSQL, selected with Driver "postgres"
	_ "github.com/mattn/go-sqlite3"            // SQLite
)

// ConnectionConfig represents database connection configuration
type ConnectionConfig struct {
	DatabaseType DatabaseType `yaml:"type"`

	// Driver overrides the database/sql driver name picked for the type.
	Driver string `yaml:"driver"`

	// Either ConnectionString OR specific fields
	ConnectionString string `yaml:"dsn"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	Schema   string `yaml:"schema"`

	// File-based databases
	FilePath string `yaml:"path"`

	// Pool configuration
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// Database represents a database connection
type Database struct {
	db     *sql.DB
	config ConnectionConfig
}

// ConnectionBuilder provides a fluent interface for building connections
type ConnectionBuilder struct {
	config ConnectionConfig
}

// NewConnectionBuilder creates a new connection builder
func NewConnectionBuilder(dbType DatabaseType) *ConnectionBuilder {
	return &ConnectionBuilder{
		config: ConnectionConfig{DatabaseType: dbType},
	}
}

// ConnectionString sets the connection string
func (cb *ConnectionBuilder) ConnectionString(connStr string) *ConnectionBuilder {
	cb.config.ConnectionString = connStr
	return cb
}

// Driver overrides the driver name
func (cb *ConnectionBuilder) Driver(driver string) *ConnectionBuilder {
	cb.config.Driver = driver
	return cb
}

// Host sets the database host
func (cb *ConnectionBuilder) Host(host string) *ConnectionBuilder {
	cb.config.Host = host
	return cb
}

// Port sets the database port
func (cb *ConnectionBuilder) Port(port int) *ConnectionBuilder {
	cb.config.Port = port
	return cb
}

// Database sets the database name
func (cb *ConnectionBuilder) Database(database string) *ConnectionBuilder {
	cb.config.Database = database
	return cb
}

// Credentials sets the username and password
func (cb *ConnectionBuilder) Credentials(username, password string) *ConnectionBuilder {
	cb.config.Username = username
	cb.config.Password = password
	return cb
}

// FilePath sets the file path for file-based databases
func (cb *ConnectionBuilder) FilePath(filePath string) *ConnectionBuilder {
	cb.config.FilePath = filePath
	return cb
}

// MaxOpenConns sets the maximum number of open connections
func (cb *ConnectionBuilder) MaxOpenConns(n int) *ConnectionBuilder {
	cb.config.MaxOpenConns = n
	return cb
}

// Build creates and returns a database connection
func (cb *ConnectionBuilder) Build(ctx context.Context) (*Database, error) {
	return Connect(ctx, cb.config)
}

// Connect opens and pings a database using the provided configuration.
func Connect(ctx context.Context, config ConnectionConfig) (*Database, error) {
	config = withDefaults(config)

	driverName, dsn, err := resolveDriver(config)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", config.DatabaseType, err)
	}

	configurePool(sqlDB, config)

	return &Database{
		db:     sqlDB,
		config: config,
	}, nil
}

func withDefaults(config ConnectionConfig) ConnectionConfig {
	if config.DatabaseType == "" && config.ConnectionString != "" {
		config.DatabaseType = detectDatabaseType(config.ConnectionString)
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 10
	}
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 100
	}
	if config.ConnMaxLifetime == 0 {
		config.ConnMaxLifetime = 5 * time.Minute
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	return config
}

// configurePool applies pool limits. Embedded engines get a single
// connection so that in-memory databases are shared by every caller.
func configurePool(sqlDB *sql.DB, config ConnectionConfig) {
	maxOpen, maxIdle, lifetime := config.MaxOpenConns, config.MaxIdleConns, config.ConnMaxLifetime
	switch config.DatabaseType {
	case DatabaseTypeSQLite, DatabaseTypeDuckDB:
		maxOpen, maxIdle, lifetime = 1, 1, 0
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(lifetime)
}

// detectDatabaseType guesses the database type from a connection string.
func detectDatabaseType(connStr string) DatabaseType {
	lower := strings.ToLower(connStr)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DatabaseTypePostgreSQL
	case strings.HasPrefix(lower, "mysql://"), strings.Contains(lower, "@tcp("):
		return DatabaseTypeMySQL
	case strings.HasPrefix(lower, "clickhouse://"):
		return DatabaseTypeClickHouse
	case strings.HasPrefix(lower, "duckdb:"), strings.HasSuffix(lower, ".duckdb"):
		return DatabaseTypeDuckDB
	case strings.HasPrefix(lower, "file:"), lower == ":memory:",
		strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"),
		strings.Contains(lower, ".db?"), strings.Contains(lower, ".sqlite?"):
		return DatabaseTypeSQLite
	default:
		return DatabaseTypePostgreSQL
	}
}

// resolveDriver returns the database/sql driver name and DSN for config.
func resolveDriver(config ConnectionConfig) (string, string, error) {
	var driverName, dsn string

	switch config.DatabaseType {
	case DatabaseTypePostgreSQL:
		driverName = "pgx"
		dsn = config.ConnectionString
		if dsn == "" {
			dsn = buildPostgreSQLDSN(config)
		}
	case DatabaseTypeMySQL:
		driverName = "mysql"
		dsn = config.ConnectionString
		if dsn == "" {
			dsn = buildMySQLDSN(config)
		} else {
			dsn = strings.TrimPrefix(dsn, "mysql://")
		}
	case DatabaseTypeSQLite:
		driverName = "sqlite3"
		dsn = firstNonEmpty(config.ConnectionString, config.FilePath)
	case DatabaseTypeClickHouse:
		driverName = "clickhouse"
		dsn = config.ConnectionString
		if dsn == "" {
			dsn = buildClickHouseDSN(config)
		}
	case DatabaseTypeDuckDB:
		driverName = "duckdb"
		dsn = strings.TrimPrefix(firstNonEmpty(config.ConnectionString, config.FilePath), "duckdb:")
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedDatabase, config.DatabaseType)
	}

	if config.Driver != "" {
		driverName = config.Driver
	}
	return driverName, dsn, nil
}

// buildPostgreSQLDSN builds PostgreSQL connection string
func buildPostgreSQLDSN(config ConnectionConfig) string {
	port := config.Port
	if port == 0 {
		port = 5432
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s", config.Host, port, config.Username)
	if config.Password != "" {
		dsn += fmt.Sprintf(" password=%s", config.Password)
	}
	if config.Database != "" {
		dsn += fmt.Sprintf(" dbname=%s", config.Database)
	}
	if config.SSLMode != "" {
		dsn += fmt.Sprintf(" sslmode=%s", config.SSLMode)
	} else {
		dsn += " sslmode=disable"
	}
	if config.Schema != "" {
		dsn += fmt.Sprintf(" search_path=%s", config.Schema)
	}
	return dsn
}

// buildMySQLDSN builds MySQL connection string
func buildMySQLDSN(config ConnectionConfig) string {
	port := config.Port
	if port == 0 {
		port = 3306
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/", config.Username, config.Password, config.Host, port)
	if config.Database != "" {
		dsn += config.Database
	}
	return dsn + "?parseTime=true&loc=Local&charset=utf8mb4"
}

// buildClickHouseDSN builds a clickhouse:// URL for the native protocol.
func buildClickHouseDSN(config ConnectionConfig) string {
	port := config.Port
	if port == 0 {
		port = 9000
	}

	u := url.URL{
		Scheme: "clickhouse",
		Host:   fmt.Sprintf("%s:%d", config.Host, port),
		Path:   "/" + config.Database,
	}
	if config.Username != "" {
		u.User = url.UserPassword(config.Username, config.Password)
	}
	return u.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.db.Close()
}

// GetDB returns the underlying *sql.DB instance
func (db *Database) GetDB() *sql.DB {
	return db.db
}

// GetConfig returns the connection configuration
func (db *Database) GetConfig() ConnectionConfig {
	return db.config
}

// Type returns the database type
func (db *Database) Type() DatabaseType {
	return db.config.DatabaseType
}

// Stats returns connection pool statistics
func (db *Database) Stats() sql.DBStats {
	return db.db.Stats()
}

// Ping verifies the connection is still alive
func (db *Database) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// BeginTx starts a new transaction with the given options
func (db *Database) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Transaction, error) {
	tx, err := db.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		tx: tx,
		db: db,
	}, nil
}
