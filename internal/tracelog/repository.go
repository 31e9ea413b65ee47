// Package tracelog persists DALI bus traffic to the SQLite traffic log.
//
// Entries are written by a background recorder so database latency never
// stalls the dispatch loop: the loop hands entries to a buffered channel
// and a worker goroutine does the inserts. When the buffer is full the
// entry is dropped and counted, never blocked on.
package tracelog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Traffic directions recorded in the log.
const (
	// DirectionRequest marks an exchange issued on behalf of a network client.
	DirectionRequest = "request"

	// DirectionBus marks a frame sniffed off the bus that daliserver did
	// not initiate.
	DirectionBus = "bus"
)

// StatusOK is the status recorded for successful exchanges. Failed
// exchanges record the error string instead.
const StatusOK = "ok"

// Entry represents a single row in the bus_traffic table.
type Entry struct {
	ID         int64     `json:"id"`
	RecordedAt time.Time `json:"recorded_at"`
	Direction  string    `json:"direction"`
	Address    byte      `json:"address"`
	Command    byte      `json:"command"`
	Response   *byte     `json:"response,omitempty"`
	Status     string    `json:"status"`
	Origin     string    `json:"origin,omitempty"`
}

// Filter controls which traffic entries to return.
type Filter struct {
	Direction string // optional: filter by direction (request, bus)
	Address   *byte  // optional: filter by DALI address byte
	Limit     int    // default 50, max 200
	Offset    int    // pagination offset
}

// ListResult contains the paginated traffic results.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the interface for traffic log operations.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores traffic entries in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new traffic log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new traffic entry. RecordedAt is set if zero.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}

	var response any
	if e.Response != nil {
		response = int64(*e.Response)
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO bus_traffic (recorded_at, direction, address, command, response, status, origin)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.RecordedAt.Format(time.RFC3339),
		e.Direction, e.Address, e.Command,
		response, e.Status, nullableString(e.Origin),
	)
	if err != nil {
		return fmt.Errorf("inserting traffic entry: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns traffic entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for traffic queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.Direction != "" {
		conditions = append(conditions, "direction = ?")
		args = append(args, filter.Direction)
	}
	if filter.Address != nil {
		conditions = append(conditions, "address = ?")
		args = append(args, int64(*filter.Address))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// WHERE clause is built from parameterised conditions (? placeholders).
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM bus_traffic %s", where) //nolint:gosec // parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting traffic entries: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // parameterised conditions, not user input
		"SELECT id, recorded_at, direction, address, command, response, status, origin FROM bus_traffic %s ORDER BY id DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying traffic entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var recordedAt string
		var address, command int64
		var response sql.NullInt64
		var origin sql.NullString

		if err := rows.Scan(&e.ID, &recordedAt, &e.Direction,
			&address, &command, &response, &e.Status, &origin); err != nil {
			return nil, fmt.Errorf("scanning traffic entry: %w", err)
		}

		e.Address = byte(address)
		e.Command = byte(command)
		if response.Valid {
			b := byte(response.Int64)
			e.Response = &b
		}
		if origin.Valid {
			e.Origin = origin.String
		}

		t, err := time.Parse(time.RFC3339, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing traffic timestamp %q: %w", recordedAt, err)
		}
		e.RecordedAt = t

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating traffic entries: %w", err)
	}

	if entries == nil {
		entries = []Entry{}
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
