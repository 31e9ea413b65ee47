package tracelog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nerrad567/daliserver/internal/infrastructure/database"
)

// busTrafficSchema mirrors the bus_traffic migration for tests.
const busTrafficSchema = `
CREATE TABLE bus_traffic (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    recorded_at TEXT    NOT NULL,
    direction   TEXT    NOT NULL,
    address     INTEGER NOT NULL,
    command     INTEGER NOT NULL,
    response    INTEGER,
    status      TEXT    NOT NULL,
    origin      TEXT
)`

// openTestRepo creates a temporary traffic log database.
func openTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if _, err := db.ExecContext(context.Background(), busTrafficSchema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}

	return NewSQLiteRepository(db.DB)
}

// TestCreateAndList verifies round-tripping entries through the table.
func TestCreateAndList(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	response := byte(0xC8)
	entries := []Entry{
		{Direction: DirectionRequest, Address: 0x01, Command: 0x90, Response: &response, Status: StatusOK, Origin: "conn-1"},
		{Direction: DirectionRequest, Address: 0x02, Command: 0x90, Status: "timeout"},
		{Direction: DirectionBus, Address: 0xFF, Command: 0x05, Status: StatusOK},
	}
	for i := range entries {
		if err := repo.Create(ctx, &entries[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if entries[i].ID == 0 {
			t.Errorf("Create() did not set ID")
		}
		if entries[i].RecordedAt.IsZero() {
			t.Errorf("Create() did not set RecordedAt")
		}
	}

	result, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 3 {
		t.Errorf("Total = %d, want 3", result.Total)
	}
	if len(result.Entries) != 3 {
		t.Fatalf("Entries = %d, want 3", len(result.Entries))
	}

	// Most recent first.
	got := result.Entries[0]
	if got.Direction != DirectionBus || got.Address != 0xFF {
		t.Errorf("first entry = %+v, want the bus frame", got)
	}

	// Response byte survives the round trip.
	last := result.Entries[2]
	if last.Response == nil || *last.Response != 0xC8 {
		t.Errorf("Response = %v, want 0xC8", last.Response)
	}
	if last.Origin != "conn-1" {
		t.Errorf("Origin = %q, want %q", last.Origin, "conn-1")
	}

	// NULL response stays nil.
	if result.Entries[1].Response != nil {
		t.Errorf("timeout entry Response = %v, want nil", result.Entries[1].Response)
	}
}

// TestListFilters verifies direction and address filtering.
func TestListFilters(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	seed := []Entry{
		{Direction: DirectionRequest, Address: 0x01, Command: 0x90, Status: StatusOK},
		{Direction: DirectionRequest, Address: 0x02, Command: 0x90, Status: StatusOK},
		{Direction: DirectionBus, Address: 0x01, Command: 0x05, Status: StatusOK},
	}
	for i := range seed {
		if err := repo.Create(ctx, &seed[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	t.Run("by direction", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Direction: DirectionBus})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 1 {
			t.Errorf("Total = %d, want 1", result.Total)
		}
	})

	t.Run("by address", func(t *testing.T) {
		addr := byte(0x01)
		result, err := repo.List(ctx, Filter{Address: &addr})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 2 {
			t.Errorf("Total = %d, want 2", result.Total)
		}
	})

	t.Run("limit and offset", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Limit: 2, Offset: 2})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 3 {
			t.Errorf("Total = %d, want 3", result.Total)
		}
		if len(result.Entries) != 1 {
			t.Errorf("Entries = %d, want 1 at offset 2", len(result.Entries))
		}
	})

	t.Run("no matches returns empty slice", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Direction: "nonsense"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Entries == nil {
			t.Error("Entries = nil, want empty slice")
		}
	})
}
