package migrations

import (
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	_ "github.com/mattn/go-sqlite3"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{"001_progress.sql", 1, false},
		{"010_more.sql", 10, false},
		{"000_zero.sql", 0, true},
		{"abc_progress.sql", 0, true},
		{"progress.sql", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVersion(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseVersion() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseVersion() = %d; want %d", got, tt.want)
			}
		})
	}
}

func TestLoad_Order(t *testing.T) {
	fsys := fstest.MapFS{
		"010_late.sql":  {Data: []byte("SELECT 10;")},
		"002_mid.sql":   {Data: []byte("SELECT 2;")},
		"001_first.sql": {Data: []byte("SELECT 1;")},
		"README.md":     {Data: []byte("ignored")},
	}
	all, err := Load(fsys)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	var versions []int
	for _, m := range all {
		versions = append(versions, m.Version)
	}
	if len(versions) != 3 || versions[0] != 1 || versions[1] != 2 || versions[2] != 10 {
		t.Errorf("versions = %v; want [1 2 10]", versions)
	}
	if all[2].SQL != "SELECT 10;" {
		t.Errorf("SQL = %q", all[2].SQL)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		fsys fstest.MapFS
		want string
	}{
		{"duplicate", fstest.MapFS{"001_a.sql": {}, "001_b.sql": {}}, "share version"},
		{"bad name", fstest.MapFS{"init.sql": {}}, "invalid migration filename"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.fsys)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v; want %q", err, tt.want)
			}
		})
	}
}

func TestLoad_Embedded(t *testing.T) {
	all, err := Load(FS)
	if err != nil {
		t.Fatalf("Load(FS) error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len = %d; want 3", len(all))
	}
}

func TestApply(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "m.db"))
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer db.Close()

	first := []Migration{
		{Version: 1, Name: "001_a.sql", SQL: "CREATE TABLE a (id INTEGER);"},
	}
	n, err := Apply(db, SQLite, first)
	if err != nil || n != 1 {
		t.Fatalf("Apply() = %d, %v; want 1, nil", n, err)
	}

	more := append(first, Migration{Version: 2, Name: "002_b.sql", SQL: "CREATE TABLE b (id INTEGER);"})
	n, err = Apply(db, SQLite, more)
	if err != nil || n != 1 {
		t.Fatalf("Apply(more) = %d, %v; want 1, nil", n, err)
	}
	if v, _ := Current(db); v != 2 {
		t.Errorf("Current() = %d; want 2", v)
	}

	broken := append(more, Migration{Version: 3, Name: "003_bad.sql", SQL: "CREATE TABLE"})
	if _, err := Apply(db, SQLite, broken); err == nil {
		t.Fatal("Apply(broken) error = nil; want error")
	}
	if v, _ := Current(db); v != 2 {
		t.Errorf("Current() after failure = %d; want 2", v)
	}
}
