package sensor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ErrNoReadings indicates the user has no stored readings yet.
var ErrNoReadings = errors.New("no readings recorded")

// Repository stores and retrieves sensor readings.
//
// Implementations must be thread-safe and use UTC timestamps.
type Repository interface {
	// Append persists a reading and fills in its assigned ID.
	Append(ctx context.Context, r *Reading) error

	// Latest returns the most recent reading for a user.
	Latest(ctx context.Context, userID string) (*Reading, error)

	// List returns readings for a user ordered newest first.
	// The limit is clamped (default 50, max 200); offset skips rows for
	// pagination.
	List(ctx context.Context, userID string, limit, offset int) ([]Reading, error)

	// CountForUser returns the total number of stored readings for a user.
	CountForUser(ctx context.Context, userID string) (int, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewRepository creates a new SQLite-backed reading repository.
func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Append inserts a reading and records the assigned row ID.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - r: Reading to persist (UserID must be set)
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (repo *SQLiteRepository) Append(ctx context.Context, r *Reading) error {
	if r.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now().UTC()
	}

	result, err := repo.db.ExecContext(ctx,
		`INSERT INTO sensor_readings (temperature, humidity, obstacle, user_id, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		r.Temperature, r.Humidity, boolToInt(r.Obstacle), r.UserID,
		r.RecordedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading insert id: %w", err)
	}
	r.ID = id

	return nil
}

// Latest returns the most recent reading for a user.
//
// Returns ErrNoReadings when the user has no stored data.
func (repo *SQLiteRepository) Latest(ctx context.Context, userID string) (*Reading, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	row := repo.db.QueryRowContext(ctx,
		`SELECT id, temperature, humidity, obstacle, user_id, recorded_at
		 FROM sensor_readings
		 WHERE user_id = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT 1`,
		userID,
	)

	r, err := scanReading(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoReadings
		}
		return nil, err
	}
	return r, nil
}

// List returns readings for a user ordered newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - userID: Owning account
//   - limit: Maximum rows to return (default 50, max 200)
//   - offset: Rows to skip for pagination
//
// Returns:
//   - []Reading: Readings ordered by recorded_at DESC (may be empty)
//   - error: nil on success, otherwise the underlying query error
func (repo *SQLiteRepository) List(ctx context.Context, userID string, limit, offset int) ([]Reading, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := repo.db.QueryContext(ctx,
		`SELECT id, temperature, humidity, obstacle, user_id, recorded_at
		 FROM sensor_readings
		 WHERE user_id = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	readings := make([]Reading, 0, limit)
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, *r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}

	return readings, nil
}

// CountForUser returns the total number of stored readings for a user.
func (repo *SQLiteRepository) CountForUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := repo.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sensor_readings WHERE user_id = ?", userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting readings: %w", err)
	}
	return count, nil
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

// scanReading scans a reading from any scanner (Row or Rows).
func scanReading(s scanner) (*Reading, error) {
	var r Reading
	var obstacle int
	var recordedAt string

	err := s.Scan(&r.ID, &r.Temperature, &r.Humidity, &obstacle, &r.UserID, &recordedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning reading: %w", err)
	}

	r.Obstacle = obstacle != 0

	timestamp, err := parseReadingTimestamp(recordedAt)
	if err != nil {
		return nil, err
	}
	r.RecordedAt = timestamp

	return &r, nil
}

// parseReadingTimestamp parses a timestamp stored in SQLite.
func parseReadingTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("recorded_at is empty")
	}

	timestamp, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return timestamp, nil
	}

	fallback, fallbackErr := time.Parse("2006-01-02 15:04:05", value)
	if fallbackErr == nil {
		return fallback, nil
	}

	return time.Time{}, fmt.Errorf("parsing recorded_at: %w", err)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
