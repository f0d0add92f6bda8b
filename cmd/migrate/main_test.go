package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFiles(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("-- "+name), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoadMigrations_pairsFiles(t *testing.T) {
	dir := writeFiles(t, "002_b.up.sql", "001_a.down.sql", "001_a.up.sql", "notes.txt")

	ms, err := loadMigrations(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(ms) != 2 {
		t.Fatalf("got %d migrations, want 2", len(ms))
	}
	if ms[0].Version != 1 || ms[0].Name != "a" || ms[0].Up != "001_a.up.sql" || ms[0].Down != "001_a.down.sql" {
		t.Errorf("first = %+v", ms[0])
	}
	if ms[1].Version != 2 || ms[1].Down != "" {
		t.Errorf("second = %+v", ms[1])
	}
	sql, err := ms[0].read(ms[0].Up)
	if err != nil || sql != "-- 001_a.up.sql" {
		t.Errorf("read = %q, %v", sql, err)
	}
}

func TestLoadMigrations_missingUp(t *testing.T) {
	dir := writeFiles(t, "001_a.down.sql")
	if _, err := loadMigrations(dir); err == nil {
		t.Error("expected error for a down file without its up file")
	}
}

func TestParseFilename(t *testing.T) {
	v, label, direction, err := parseFilename("001_ledger_blocks.up.sql")
	if err != nil || v != 1 || label != "ledger_blocks" || direction != "up" {
		t.Errorf("parseFilename() = %d, %q, %q, %v", v, label, direction, err)
	}
	for _, bad := range []string{"ledger.up.sql", "001_a.sql"} {
		if _, _, _, err := parseFilename(bad); err == nil {
			t.Errorf("parseFilename(%q): expected error", bad)
		}
	}
}

func TestPlanning(t *testing.T) {
	ms := []migration{{Version: 1, Name: "a"}, {Version: 2, Name: "b"}, {Version: 3, Name: "c"}}
	applied := map[int64]bool{1: true, 2: true}

	if p := pendingUp(ms, applied); len(p) != 1 || p[0].Version != 3 {
		t.Errorf("pendingUp = %+v", p)
	}
	if m, ok := latestApplied(ms, applied); !ok || m.Version != 2 {
		t.Errorf("latestApplied = %+v, %v", m, ok)
	}
	if _, ok := latestApplied(ms, nil); ok {
		t.Error("latestApplied on a fresh database should report nothing")
	}

	var buf bytes.Buffer
	printStatus(&buf, ms, applied)
	if got := strings.Count(buf.String(), "applied"); got != 2 {
		t.Errorf("status shows %d applied, want 2:\n%s", got, buf.String())
	}
}

func TestRepoMigrations(t *testing.T) {
	ms, err := loadMigrations(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatal(err)
	}
	if len(ms) == 0 {
		t.Fatal("no migrations found")
	}
	for _, m := range ms {
		if m.Down == "" {
			t.Errorf("migration %d has no down file", m.Version)
		}
	}
}
