package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/scanctl/internal/config"
	"github.com/rs/zerolog/log"
)

// DefaultDefinitions is the catalog used when no file is configured.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Name:        "dummytool",
			Description: "echoes a fixed line; useful for smoke tests",
			Command:     []string{"echo", "dummy tool output"},
			Timeout:     10 * time.Second,
			Parser:      ParserRaw,
		},
	}
}

// FromConfig converts catalog file entries into definitions.
func FromConfig(file config.CatalogFile) ([]Definition, error) {
	defs := make([]Definition, 0, len(file.Tools))
	for i, entry := range file.Tools {
		timeout, err := entry.TimeoutDuration()
		if err != nil {
			return nil, fmt.Errorf("%w: tools[%d]: %v", ErrInvalidDefinition, i, err)
		}
		defs = append(defs, Definition{
			Name:        entry.Name,
			Description: entry.Description,
			Command:     entry.Command,
			Timeout:     timeout,
			Parser:      entry.Parser,
			Script:      entry.Script,
			BaseURL:     entry.BaseURL,
			Container:   entry.Container,
		})
	}
	return defs, nil
}

// Load builds a registry from the catalog file at path, or from
// DefaultDefinitions when path is empty.
func Load(path string, opts Options) (*Registry, error) {
	defs := DefaultDefinitions()
	if strings.TrimSpace(path) != "" {
		file, err := config.LoadCatalog(path)
		if err != nil {
			return nil, err
		}
		defs, err = FromConfig(file)
		if err != nil {
			return nil, err
		}
	}

	reg := NewRegistry(opts)
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	}
	log.Info().Msgf("catalog.Load path=%q tools=%d", path, len(defs))
	return reg, nil
}
