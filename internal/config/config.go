package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// CatalogFile is the on-disk list of tool definitions.
type CatalogFile struct {
	Tools []ToolConfig `toml:"tools" yaml:"tools"`
}

type ToolConfig struct {
	Name        string   `toml:"name" yaml:"name"`
	Description string   `toml:"description" yaml:"description"`
	Command     []string `toml:"command" yaml:"command"`
	Timeout     string   `toml:"timeout" yaml:"timeout"`
	Parser      string   `toml:"parser" yaml:"parser"`
	Script      string   `toml:"script" yaml:"script"`
	BaseURL     string   `toml:"base_url" yaml:"base_url"`
	Container   bool     `toml:"container" yaml:"container"`
}

// LoadCatalog reads a catalog from TOML or YAML, chosen by file extension.
func LoadCatalog(path string) (CatalogFile, error) {
	var cfg CatalogFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := loadToml(path, &cfg); err != nil {
			return CatalogFile{}, err
		}
	case ".yaml", ".yml":
		if err := loadYAML(path, &cfg); err != nil {
			return CatalogFile{}, err
		}
	default:
		return CatalogFile{}, fmt.Errorf("config load failed (%s): unsupported catalog format", path)
	}
	if err := ValidateCatalog(cfg); err != nil {
		return CatalogFile{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateCatalog(cfg CatalogFile) error {
	seen := make(map[string]bool, len(cfg.Tools))
	for i, entry := range cfg.Tools {
		if err := ValidateToolEntry(entry); err != nil {
			return fmt.Errorf("tools[%d] invalid: %w", i, err)
		}
		name := strings.TrimSpace(entry.Name)
		if seen[name] {
			return fmt.Errorf("tools[%d] invalid: duplicate name %q", i, name)
		}
		seen[name] = true
	}
	return nil
}

func ValidateToolEntry(entry ToolConfig) error {
	if strings.TrimSpace(entry.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(entry.Command) == 0 || strings.TrimSpace(entry.Command[0]) == "" {
		return fmt.Errorf("command is required")
	}
	if _, err := entry.TimeoutDuration(); err != nil {
		return err
	}
	return nil
}

// TimeoutDuration parses Timeout; an empty value yields zero.
func (t ToolConfig) TimeoutDuration() (time.Duration, error) {
	raw := strings.TrimSpace(t.Timeout)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("timeout must not be negative: %s", raw)
	}
	return d, nil
}
