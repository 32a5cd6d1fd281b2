package config

import (
	"os"
	"path/filepath"
)

const appDirName = ".ship"

// DataDir returns the base data directory for ship.
func DataDir() (string, error) {
	if dir := os.Getenv("SHIP_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, appDirName), nil
}

// CoreConfigPath returns the path to the TOML configuration file.
func CoreConfigPath() (string, error) {
	return dataFile("config.toml")
}

// CacheDBPath returns the path to the bbolt session cache.
func CacheDBPath() (string, error) {
	return dataFile("cache.db")
}

// CacheFilePath returns the path to the JSON session cache.
func CacheFilePath() (string, error) {
	return dataFile("session_cache.json")
}

// LogPath returns the path the terminal UI writes its log to.
func LogPath() (string, error) {
	return dataFile("ship.log")
}

func dataFile(name string) (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, name), nil
}
