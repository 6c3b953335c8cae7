package main

import (
	"testing"
	"testing/fstest"

	"github.com/jmerrifield20/tsa-ledger/migrations"
)

func TestVersionFromFile(t *testing.T) {
	tests := []struct {
		name    string
		want    int64
		wantErr bool
	}{
		{"001_event_ledger.up.sql", 1, false},
		{"012_feature_index.up.sql", 12, false},
		{"noversion.sql", 0, true},
		{"abc_thing.up.sql", 0, true},
	}
	for _, tt := range tests {
		got, err := versionFromFile(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("versionFromFile(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("versionFromFile(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestUpMigrations_skipsDownFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"002_b.up.sql":   {Data: []byte("SELECT 2")},
		"001_a.up.sql":   {Data: []byte("SELECT 1")},
		"001_a.down.sql": {Data: []byte("SELECT 0")},
		"README.md":      {Data: []byte("docs")},
	}
	files, err := upMigrations(fsys)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || files[0] != "001_a.up.sql" || files[1] != "002_b.up.sql" {
		t.Errorf("upMigrations = %v", files)
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	files, err := upMigrations(migrations.FS)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 || files[0] != "001_event_ledger.up.sql" {
		t.Errorf("embedded migrations = %v", files)
	}
}
