package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// ErrDuplicate is returned when an insert violates a unique constraint
var ErrDuplicate = errors.New("record already exists")

// DB wraps the SQLite connection pool
type DB struct {
	db  *sql.DB
	log *zap.Logger
}

// Open opens (creating if needed) the database at dbPath and creates tables
func Open(dbPath string, log *zap.Logger) (*DB, error) {
	// Ensure data directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Foreign keys are per connection in SQLite, so they go in the DSN.
	// Transactions take the write lock at BEGIN: a deferred transaction that
	// reads and then writes fails with SQLITE_BUSY instead of waiting.
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL", dbPath)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool parameters
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	d := &DB{db: conn, log: log}
	if err := d.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if err := d.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info("Database initialized successfully", zap.String("path", dbPath))
	return d, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks the database is reachable
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// EnsureAdminUser creates the admin user, or grants admin rights to an
// existing account of that name and resets its password to passwordHash.
// An empty password hash disables the bootstrap. This is the only way an
// account becomes admin.
func (d *DB) EnsureAdminUser(ctx context.Context, username, passwordHash string) error {
	if username == "" || passwordHash == "" {
		d.log.Debug("Admin bootstrap skipped, no credentials configured")
		return nil
	}

	return d.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE users SET is_admin = 1, password_hash = ?, updated_at = ? WHERE username = ?`,
			passwordHash, now(), username)
		if err != nil {
			return fmt.Errorf("failed to update admin user: %w", err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return err
		} else if n > 0 {
			d.log.Info("Admin user already exists, admin rights ensured", zap.String("username", username))
			return nil
		}

		ts := now()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO users (username, password_hash, email, first_name, last_name, is_admin, created_at, updated_at)
			VALUES (?, ?, '', '', '', 1, ?, ?)
		`, username, passwordHash, ts, ts); err != nil {
			return fmt.Errorf("failed to create admin user: %w", err)
		}

		d.log.Info("Admin user created successfully", zap.String("username", username))
		return nil
	})
}

// createTables creates all tables if they don't exist
func (d *DB) createTables() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL COLLATE NOCASE,
			password_hash TEXT NOT NULL,
			email TEXT,
			first_name TEXT,
			last_name TEXT,
			is_admin INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username)`,

		`CREATE TABLE IF NOT EXISTS datasets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			filename TEXT NOT NULL,
			blob_key TEXT,
			uploaded_at INTEGER NOT NULL,
			total_count INTEGER NOT NULL,
			avg_flowrate REAL NOT NULL,
			avg_pressure REAL NOT NULL,
			avg_temperature REAL NOT NULL,
			type_distribution TEXT NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_datasets_user_uploaded ON datasets(user_id, uploaded_at DESC, id DESC)`,

		`CREATE TABLE IF NOT EXISTS equipment_rows (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			dataset_id INTEGER NOT NULL,
			position INTEGER NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			flowrate REAL NOT NULL,
			pressure REAL NOT NULL,
			temperature REAL NOT NULL,
			FOREIGN KEY (dataset_id) REFERENCES datasets(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_equipment_rows_dataset ON equipment_rows(dataset_id, position)`,
	}

	for _, table := range tables {
		if _, err := d.db.Exec(table); err != nil {
			return fmt.Errorf("failed to execute SQL: %s, error: %w", table, err)
		}
	}

	return nil
}

// migrate brings databases created by earlier versions up to the current
// schema. Username case-insensitivity only applies to new databases.
func (d *DB) migrate() error {
	userCols, err := d.columns("users")
	if err != nil {
		return err
	}
	if !userCols["is_admin"] {
		if _, err := d.db.Exec(`ALTER TABLE users ADD COLUMN is_admin INTEGER NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("add users.is_admin: %w", err)
		}
	}

	datasetCols, err := d.columns("datasets")
	if err != nil {
		return err
	}
	if datasetCols["raw_data"] {
		// rows live in equipment_rows only
		if _, err := d.db.Exec(`ALTER TABLE datasets DROP COLUMN raw_data`); err != nil {
			return fmt.Errorf("drop datasets.raw_data: %w", err)
		}
	}
	return nil
}

func (d *DB) columns(table string) (map[string]bool, error) {
	rows, err := d.db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// WithTx executes a function within a transaction
func (d *DB) WithTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	err = fn(tx)
	return err
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrConstraint &&
			(serr.ExtendedCode == sqlite3.ErrConstraintUnique || serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	}
	return false
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
