package shared

import (
	"path/filepath"
	"testing"
)

func TestMigrationRunner(t *testing.T) {
	tables := []string{"queue_entries", "download_jobs", "offline_tracks"}

	t.Run("loadMigrations", func(t *testing.T) {
		migrations, err := loadMigrations()
		if err != nil {
			t.Fatalf("failed to load migrations: %v", err)
		}

		if len(migrations) != len(tables) {
			t.Fatalf("expected %d migrations, got %d", len(tables), len(migrations))
		}

		for i := 1; i < len(migrations); i++ {
			if migrations[i].Version <= migrations[i-1].Version {
				t.Errorf("migrations not sorted: version %d comes after %d", migrations[i].Version, migrations[i-1].Version)
			}
		}

		for _, m := range migrations {
			if m.Up == "" {
				t.Errorf("migration version %d missing up SQL", m.Version)
			}
			if m.Down == "" {
				t.Errorf("migration version %d missing down SQL", m.Version)
			}
		}

		if migrations[0].Name != "create_queue" {
			t.Errorf("expected first migration create_queue, got %s", migrations[0].Name)
		}
	})

	t.Run("RunMigrations And Rollback", func(t *testing.T) {
		db, err := NewDatabase(":memory:")
		if err != nil {
			t.Fatalf("failed to create database: %v", err)
		}
		defer db.Close()

		if err := RunMigrations(db); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}

		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
			t.Fatalf("failed to query schema_migrations: %v", err)
		}
		if count != len(tables) {
			t.Errorf("expected %d applied migrations, got %d", len(tables), count)
		}

		for _, table := range tables {
			if _, err := db.Exec("SELECT 1 FROM " + table + " LIMIT 1"); err != nil {
				t.Errorf("%s table should exist after migrations: %v", table, err)
			}
		}

		if err := RunMigrations(db); err != nil {
			t.Fatalf("re-running migrations should be a no-op: %v", err)
		}

		if err := RollbackMigration(db); err != nil {
			t.Fatalf("failed to rollback migration: %v", err)
		}

		if _, err := db.Exec("SELECT 1 FROM offline_tracks LIMIT 1"); err == nil {
			t.Error("offline_tracks table should be gone after rollback")
		}
		if _, err := db.Exec("SELECT 1 FROM download_jobs LIMIT 1"); err != nil {
			t.Errorf("download_jobs table should survive a single rollback: %v", err)
		}
	})

	t.Run("Rollback with nothing applied", func(t *testing.T) {
		db, err := NewDatabase(":memory:")
		if err != nil {
			t.Fatalf("failed to create database: %v", err)
		}
		defer db.Close()

		if _, err := db.Exec("CREATE TABLE schema_migrations (version INTEGER PRIMARY KEY)"); err != nil {
			t.Fatalf("failed to create table: %v", err)
		}
		if err := RollbackMigration(db); err == nil {
			t.Error("expected error when no migrations are applied")
		}
	})

	t.Run("OpenDatabase on file", func(t *testing.T) {
		cfg := DatabaseConfig{Path: filepath.Join(t.TempDir(), "crate.db"), MaxOpenConns: 1, MaxIdleConns: 1}
		db, err := OpenDatabase(cfg)
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()

		if _, err := db.Exec("INSERT INTO queue_entries (position, item_id) VALUES (0, 'a')"); err != nil {
			t.Errorf("expected writable queue table: %v", err)
		}
	})
}

func TestRemoveComments(t *testing.T) {
	in := "-- header\nCREATE TABLE t (\n  id INTEGER -- key\n)"
	want := "CREATE TABLE t (\nid INTEGER\n)"
	if got := removeComments(in); got != want {
		t.Errorf("removeComments() = %q, want %q", got, want)
	}
}
