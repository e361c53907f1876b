package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DB is the global database connection
var DB *sqlx.DB

// Connect establishes a connection to the database. With DATABASE_URL set it
// connects to PostgreSQL; otherwise it opens (and creates) a local SQLite
// file under the data directory.
func Connect() error {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		db, err := sqlx.Connect("postgres", url)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %v", err)
		}
		DB = db
		return initializeSchema()
	}

	// Create data directory if it doesn't exist
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %v", err)
	}

	dbPath := filepath.Join(dataDir, "psybot.db")
	db, err := sqlx.Connect("sqlite3", dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %v", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %v", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	DB = db
	return initializeSchema()
}

// Close closes the database connection
func Close() error {
	if DB != nil {
		return DB.Close()
	}
	return nil
}

// initializeSchema creates necessary tables if they don't exist
func initializeSchema() error {
	for _, stmt := range schemaStatements(DB.DriverName()) {
		if _, err := DB.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %v", err)
		}
	}
	return nil
}

// schemaStatements returns the CREATE TABLE statements for the given driver.
// The dialects differ only in how generated row ids are declared.
func schemaStatements(driverName string) []string {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if driverName == "postgres" {
		serial = "BIGSERIAL PRIMARY KEY"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			is_admin BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tests (
			id %s,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			allow_back BOOLEAN NOT NULL DEFAULT false,
			is_active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`, serial),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS questions (
			id %s,
			test_id INTEGER NOT NULL,
			text TEXT NOT NULL,
			position INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (test_id) REFERENCES tests(id)
		)`, serial),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS answer_options (
			id %s,
			question_id INTEGER NOT NULL,
			text TEXT NOT NULL,
			score_value INTEGER NOT NULL DEFAULT 0,
			position INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (question_id) REFERENCES questions(id)
		)`, serial),
		// position preserves declaration order: bands may overlap and the
		// first declared match wins.
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS result_bands (
			id %s,
			test_id INTEGER NOT NULL,
			position INTEGER NOT NULL DEFAULT 0,
			min_score INTEGER NOT NULL,
			max_score INTEGER NOT NULL,
			text TEXT NOT NULL,
			FOREIGN KEY (test_id) REFERENCES tests(id)
		)`, serial),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS sent_tests (
			id %s,
			sender_id BIGINT NOT NULL,
			test_id INTEGER NOT NULL,
			receiver_username TEXT NOT NULL,
			receiver_id BIGINT,
			is_delivered BOOLEAN NOT NULL DEFAULT false,
			is_completed BOOLEAN NOT NULL DEFAULT false,
			delivered_at TIMESTAMP,
			completed_at TIMESTAMP,
			reminded_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (test_id) REFERENCES tests(id)
		)`, serial),
	}
}

// insertReturningID runs an INSERT and reports the generated row id. lib/pq
// does not implement LastInsertId, so the postgres path appends RETURNING id
// instead.
func insertReturningID(ctx context.Context, e sqlx.ExtContext, query string, args ...interface{}) (int64, error) {
	if DB.DriverName() == "postgres" {
		var id int64
		if err := sqlx.GetContext(ctx, e, &id, query+" RETURNING id", args...); err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
