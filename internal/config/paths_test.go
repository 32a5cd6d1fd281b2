package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestPaths(t *testing.T) {
	t.Setenv("SHIP_HOME", "")
	t.Setenv("HOME", filepath.Join(t.TempDir(), "home"))

	dataDir, err := DataDir()
	if err != nil {
		t.Fatalf("DataDir: %v", err)
	}
	if !strings.HasSuffix(dataDir, ".ship") {
		t.Fatalf("unexpected data dir: %s", dataDir)
	}

	for name, fn := range map[string]func() (string, error){
		"config.toml":        CoreConfigPath,
		"cache.db":           CacheDBPath,
		"session_cache.json": CacheFilePath,
		"ship.log":           LogPath,
	} {
		path, err := fn()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if want := filepath.Join(dataDir, name); path != want {
			t.Fatalf("unexpected path: got=%q want=%q", path, want)
		}
	}
}

func TestDataDirHonorsOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SHIP_HOME", dir)
	got, err := DataDir()
	if err != nil {
		t.Fatalf("DataDir: %v", err)
	}
	if got != dir {
		t.Fatalf("unexpected data dir: got=%q want=%q", got, dir)
	}
}
