package manifest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// FileName is the per-agent descriptor expected in each agent directory.
const FileName = "manifest.yaml"

// DefaultPriority applies when a manifest does not declare one.
const DefaultPriority = 5

// Manifest is the registration metadata read once per agent.
type Manifest struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
	Version     string `mapstructure:"version"`
	Priority    int    `mapstructure:"priority"`
}

// Load parses a manifest file.
func Load(path string) (Manifest, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("priority", DefaultPriority)
	if err := v.ReadInConfig(); err != nil {
		return Manifest{}, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := v.Unmarshal(&m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return m, nil
}

// Discovered pairs an agent name with its manifest.
type Discovered struct {
	Name         string
	ManifestPath string
	Manifest     Manifest
}

// Discover scans dir for subdirectories containing a manifest file. A
// malformed or unreadable manifest skips that agent with a warning and
// discovery continues.
func Discover(dir string) []Discovered {
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Warn("agent directory not found", "dir", dir, "error", err)
		return nil
	}
	var out []Discovered
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name(), FileName)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		m, err := Load(path)
		if err != nil {
			slog.Warn("skipping agent with bad manifest", "agent", e.Name(), "error", err)
			continue
		}
		out = append(out, Discovered{Name: e.Name(), ManifestPath: path, Manifest: m})
	}
	return out
}
