package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test file %s: %v", name, err)
		}
	}
	return dir
}

func TestLoadMigrations(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"001_surveillance.sql": "CREATE TABLE notification (id UUID PRIMARY KEY);",
		"002_reference.sql":    "CREATE TABLE pathology (id UUID PRIMARY KEY);",
		"010_indexes.sql":      "CREATE INDEX ON notification (code);",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}

	if migrations[0].Version != 1 || migrations[0].Name != "001_surveillance.sql" {
		t.Errorf("unexpected first migration: %d %s", migrations[0].Version, migrations[0].Name)
	}
	if migrations[0].SQL != "CREATE TABLE notification (id UUID PRIMARY KEY);" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
	if migrations[1].Version != 2 {
		t.Errorf("expected version 2, got %d", migrations[1].Version)
	}
	if migrations[2].Version != 10 {
		t.Errorf("expected version 10 after 2, got %d", migrations[2].Version)
	}
}

func TestLoadMigrations_SkipsOtherFiles(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"001_surveillance.sql": "SELECT 1;",
		"README.md":            "notes",
		"seed.sql":             "SELECT 2;",
		"abc_reference.sql":    "SELECT 3;",
	})
	if err := os.Mkdir(filepath.Join(dir, "002_dir.sql"), 0755); err != nil {
		t.Fatal(err)
	}

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 1 {
		t.Fatalf("expected 1 migration, got %d", len(migrations))
	}
}

func TestLoadMigrations_NonExistentDir(t *testing.T) {
	if _, err := NewMigrator(nil, "/nonexistent/path/that/does/not/exist").LoadMigrations(); err == nil {
		t.Error("expected error for non-existent directory")
	}
}

func TestLoadMigrations_Checksum(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"001_a.sql": "SELECT 1;",
		"002_b.sql": "SELECT 1;",
		"003_c.sql": "SELECT 2;",
	})
	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations[0].Checksum) != 64 {
		t.Errorf("expected a sha256 hex checksum, got %q", migrations[0].Checksum)
	}
	if migrations[0].Checksum != migrations[1].Checksum {
		t.Error("expected equal content to give equal checksums")
	}
	if migrations[0].Checksum == migrations[2].Checksum {
		t.Error("expected different content to give different checksums")
	}
}

func done(versions ...int) map[int]AppliedMigration {
	out := make(map[int]AppliedMigration)
	for _, v := range versions {
		out[v] = AppliedMigration{}
	}
	return out
}

func TestPending(t *testing.T) {
	migrations := []Migration{{Version: 1}, {Version: 2}, {Version: 3}, {Version: 4}}

	got := Pending(migrations, done(1, 3), 0)
	if len(got) != 2 || got[0].Version != 2 || got[1].Version != 4 {
		t.Errorf("unexpected pending set: %+v", got)
	}

	got = Pending(migrations, done(1), 2)
	if len(got) != 1 || got[0].Version != 2 {
		t.Errorf("expected only version 2 up to target, got %+v", got)
	}

	if got := Pending(migrations, done(1, 2, 3, 4), 0); len(got) != 0 {
		t.Errorf("expected nothing pending, got %+v", got)
	}
}

func TestBuildStatus(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	statuses := BuildStatus(
		[]Migration{
			{Version: 1, Name: "001_surveillance.sql", Checksum: "aaa"},
			{Version: 2, Name: "002_reference.sql", Checksum: "bbb"},
			{Version: 3, Name: "003_indexes.sql", Checksum: "ccc"},
		},
		map[int]AppliedMigration{
			1: {AppliedAt: at, Checksum: "aaa"},
			3: {AppliedAt: at, Checksum: "old"},
		},
	)
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}
	if statuses[0].Modified {
		t.Error("expected migration 001 unmodified")
	}
	if !statuses[2].Applied || !statuses[2].Modified {
		t.Errorf("expected migration 003 applied and modified, got %+v", statuses[2])
	}
	if !statuses[0].Applied || statuses[0].AppliedAt == nil || !statuses[0].AppliedAt.Equal(at) {
		t.Errorf("expected migration 001 applied at %s, got %+v", at, statuses[0])
	}
	if statuses[1].Applied || statuses[1].AppliedAt != nil {
		t.Errorf("expected migration 002 pending, got %+v", statuses[1])
	}
}
