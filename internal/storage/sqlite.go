package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"jenkinsrun/internal/logger"
	"jenkinsrun/internal/storage/models"

	_ "github.com/mattn/go-sqlite3"
)

const timestampLayout = "2006-01-02 15:04:05.000000"

var db *sql.DB

// ErrNotInitialized is returned when storage is used before Init
var ErrNotInitialized = errors.New("storage not initialized")

// Init initializes the SQLite database
func Init(dbPath string) error {
	var err error

	// Open the database connection with connection pool settings
	db, err = sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON&_busy_timeout=5000")
	if err != nil {
		return err
	}

	// SQLite doesn't support multiple writers, but we can optimize for concurrent reads
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err = db.Ping(); err != nil {
		return err
	}

	if err = createTables(); err != nil {
		return err
	}

	logger.Info("Database initialized successfully", "path", dbPath)
	return nil
}

// createTables creates the necessary database tables
func createTables() error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS output_values (
		scope TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (scope, key)
	);
	CREATE TABLE IF NOT EXISTS invocations (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		operation TEXT NOT NULL,
		job TEXT NOT NULL,
		parameters TEXT,
		build_number INTEGER,
		result TEXT,
		error TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_invocations_started_at ON invocations (started_at);
	`)

	return err
}

// SaveOutputValue stores value under scope and key, replacing what was there
func SaveOutputValue(scope, key string, value interface{}) error {
	if db == nil {
		return ErrNotInitialized
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode output value %s: %w", key, err)
	}

	_, err = db.Exec(
		`INSERT INTO output_values (scope, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (scope, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		scope,
		key,
		string(encoded),
		time.Now().UTC().Format(timestampLayout),
	)
	if err != nil {
		logger.Error("Failed to save output value", "scope", scope, "key", key, "error", err)
		return err
	}
	return nil
}

// ReadOutputValue returns the decoded value stored under scope and key, or
// nil when there is none. Numbers decode as float64.
func ReadOutputValue(scope, key string) (interface{}, error) {
	if db == nil {
		return nil, ErrNotInitialized
	}

	var encoded string
	err := db.QueryRow(`SELECT value FROM output_values WHERE scope = ? AND key = ?`, scope, key).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var value interface{}
	if err := json.Unmarshal([]byte(encoded), &value); err != nil {
		return nil, fmt.Errorf("decode output value %s: %w", key, err)
	}
	return value, nil
}

// GetOutputValues lists every value stored under scope
func GetOutputValues(scope string) ([]models.OutputValue, error) {
	if db == nil {
		return nil, ErrNotInitialized
	}

	rows, err := db.Query(`SELECT scope, key, value, updated_at FROM output_values WHERE scope = ? ORDER BY key`, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []models.OutputValue
	for rows.Next() {
		var v models.OutputValue
		var updated string
		if err := rows.Scan(&v.Scope, &v.Key, &v.Value, &updated); err != nil {
			return nil, err
		}
		v.UpdatedAt = parseTimestamp(updated)
		values = append(values, v)
	}
	return values, rows.Err()
}

// InsertInvocation records the start of an invocation
func InsertInvocation(inv models.Invocation) error {
	if db == nil {
		return ErrNotInitialized
	}

	_, err := db.Exec(
		`INSERT INTO invocations (id, source, operation, job, parameters, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		inv.ID,
		inv.Source,
		inv.Operation,
		inv.Job,
		inv.Parameters,
		inv.StartedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		logger.Error("Failed to insert invocation", "id", inv.ID, "error", err)
		return err
	}
	return nil
}

// FinishInvocation records the outcome of an invocation
func FinishInvocation(id string, buildNumber int, result, errMsg string, finishedAt time.Time) error {
	if db == nil {
		return ErrNotInitialized
	}

	res, err := db.Exec(
		`UPDATE invocations SET build_number = ?, result = ?, error = ?, finished_at = ? WHERE id = ?`,
		nullInt(buildNumber),
		result,
		errMsg,
		finishedAt.UTC().Format(timestampLayout),
		id,
	)
	if err != nil {
		logger.Error("Failed to finish invocation", "id", id, "error", err)
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("invocation %s not found", id)
	}
	return nil
}

// GetInvocations retrieves invocations with pagination, newest first
func GetInvocations(limit, offset int) ([]models.Invocation, error) {
	if db == nil {
		return nil, ErrNotInitialized
	}

	rows, err := db.Query(
		`SELECT id, source, operation, job, parameters, build_number, result, error, started_at, finished_at
		FROM invocations ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit,
		offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invocations []models.Invocation
	for rows.Next() {
		var inv models.Invocation
		var params, result, errMsg, finished sql.NullString
		var buildNumber sql.NullInt64
		var started string

		if err := rows.Scan(
			&inv.ID,
			&inv.Source,
			&inv.Operation,
			&inv.Job,
			&params,
			&buildNumber,
			&result,
			&errMsg,
			&started,
			&finished,
		); err != nil {
			return nil, err
		}

		inv.Parameters = params.String
		inv.BuildNumber = int(buildNumber.Int64)
		inv.Result = result.String
		inv.Error = errMsg.String
		inv.StartedAt = parseTimestamp(started)
		if finished.Valid {
			t := parseTimestamp(finished.String)
			inv.FinishedAt = &t
		}

		invocations = append(invocations, inv)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return invocations, nil
}

// parseTimestamp accepts the stored layout, with or without microseconds
func parseTimestamp(value string) time.Time {
	for _, layout := range []string{timestampLayout, "2006-01-02 15:04:05", time.RFC3339Nano} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

func nullInt(n int) interface{} {
	if n == 0 {
		return nil
	}
	return n
}

// Close closes the database connection
func Close() error {
	if db != nil {
		err := db.Close()
		db = nil
		return err
	}
	return nil
}

// Ping checks that the database is reachable
func Ping() error {
	if db == nil {
		return ErrNotInitialized
	}
	return db.Ping()
}
