package database

import (
	"path/filepath"
	"testing"

	"github.com/liveforge-dev/liveforge/internal/model"
)

func TestInMemorySQLite(t *testing.T) {
	db, err := New("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer db.Close()

	if !db.IsSQLite() || db.IsPostgres() {
		t.Errorf("driver misreported: %s", db.Driver)
	}
	// In-memory databases share one pool; a second Open would create a
	// separate database.
	if db.ReadDB != nil {
		t.Errorf("in-memory database should not have a read pool")
	}
	if db.Reader() != db.DB {
		t.Errorf("reader should fall back to the write pool")
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
}

func TestFileSQLiteSplitPools(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.db")
	db, err := New("sqlite", path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer db.Close()

	if db.ReadDB == nil {
		t.Fatalf("file database should have a separate read pool")
	}
	if db.Reader() != db.ReadDB {
		t.Errorf("reader should be the read pool")
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}

	// Writes land through the write pool and are visible to readers.
	gen := &model.Generation{ID: "g1", ProjectID: "p1", UserID: "alice", Status: "pending"}
	if err := db.Create(gen).Error; err != nil {
		t.Fatalf("create failed: %v", err)
	}
	var count int64
	if err := db.Reader().Model(&model.Generation{}).Count(&count).Error; err != nil {
		t.Fatalf("read pool query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("read pool sees %d rows, want 1", count)
	}

	// The read pool refuses writes.
	if err := db.Reader().Create(&model.Generation{ID: "g2"}).Error; err == nil {
		t.Errorf("read pool should reject writes")
	}
}

func TestUnsupportedDriver(t *testing.T) {
	if _, err := New("oracle", "dsn"); err == nil {
		t.Errorf("unsupported driver should be rejected")
	}
}
