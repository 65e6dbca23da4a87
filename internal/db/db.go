package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/snowflakedb/gosnowflake"
)

// Dialect names the SQL backend behind a *sql.DB.
type Dialect string

const (
	DialectSQLite    Dialect = "sqlite"
	DialectSnowflake Dialect = "snowflake"
)

var (
	// ErrInvalidTable is returned for table names that are not plain identifier paths.
	ErrInvalidTable = errors.New("invalid table name")
	// ErrInvalidIdentifier is returned for function names that are not plain identifier paths.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

var identPath = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*){0,2}$`)

// ValidateTable checks that table is an identifier path such as
// CONVERSATIONS or DB.SCHEMA.CONVERSATIONS. Table names cannot be bound as
// query parameters, so this is the only guard on the interpolated token.
func ValidateTable(table string) error {
	if !identPath.MatchString(table) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	return nil
}

// ValidateIdentifier applies the same identifier-path rule to other
// interpolated names, such as a SQL function.
func ValidateIdentifier(name string) error {
	if !identPath.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

// SnowflakeParams are the connection parameters for a Snowflake account.
type SnowflakeParams struct {
	Account   string
	User      string
	Password  string
	Role      string
	Warehouse string
	Database  string
	Schema    string
}

// OpenSQLite opens (or creates) a SQLite database at the given path, ensuring
// that the parent directory exists.
func OpenSQLite(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db at %s: %w", path, err)
	}

	return db, nil
}

// OpenSnowflake opens a long-lived connection to Snowflake and verifies it.
func OpenSnowflake(p SnowflakeParams) (*sql.DB, error) {
	dsn, err := gosnowflake.DSN(&gosnowflake.Config{
		Account:   p.Account,
		User:      p.User,
		Password:  p.Password,
		Role:      p.Role,
		Warehouse: p.Warehouse,
		Database:  p.Database,
		Schema:    p.Schema,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build snowflake dsn: %w", err)
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open snowflake account %s: %w", p.Account, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping snowflake account %s: %w", p.Account, err)
	}

	return db, nil
}

// InitSchema creates the conversation table if it does not exist.
// created_at holds unix nanoseconds.
func InitSchema(db *sql.DB, dialect Dialect, table string) error {
	if err := ValidateTable(table); err != nil {
		return err
	}
	if dialect == DialectSQLite && strings.Count(table, ".") > 1 {
		return fmt.Errorf("%w: %q: sqlite tables take at most a schema qualifier", ErrInvalidTable, table)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS ` + table + ` (
			conversation_id TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	if dialect == DialectSQLite {
		if _, err := db.Exec(sqliteIndexSQL(table)); err != nil {
			return fmt.Errorf("create index on %s: %w", table, err)
		}
	}
	return nil
}

// sqliteIndexSQL names the index after its table. SQLite takes the schema
// qualifier on the index name, never on the indexed table.
func sqliteIndexSQL(table string) string {
	schema, name, ok := strings.Cut(table, ".")
	if !ok {
		return `CREATE INDEX IF NOT EXISTS idx_` + table + `_created ON ` + table + `(conversation_id, created_at)`
	}
	return `CREATE INDEX IF NOT EXISTS ` + schema + `.idx_` + name + `_created ON ` + name + `(conversation_id, created_at)`
}
