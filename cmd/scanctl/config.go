package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/scanctl/internal/api"
	"github.com/danmuck/scanctl/internal/scheduler"
	"github.com/danmuck/scanctl/internal/tools"
)

type ServiceConfig struct {
	API            api.Config
	Scheduler      scheduler.Config
	DefaultTimeout time.Duration
	CatalogPath    string
	DockerBinary   string
	DrainTimeout   time.Duration
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		API:            api.DefaultConfig(),
		Scheduler:      scheduler.DefaultConfig(),
		DefaultTimeout: tools.DefaultTimeout,
		DockerBinary:   "docker",
		DrainTimeout:   30 * time.Second,
	}
}

type fileConfig struct {
	ID             string   `toml:"id"`
	Addr           string   `toml:"addr"`
	CORSOrigins    []string `toml:"cors_origins"`
	MaxConcurrent  int      `toml:"max_concurrent"`
	PollInterval   string   `toml:"poll_interval"`
	DefaultTimeout string   `toml:"default_timeout"`
	DrainTimeout   string   `toml:"drain_timeout"`
	Catalog        string   `toml:"catalog"`
	DockerBinary   string   `toml:"docker_binary"`
}

func loadServiceConfig(path string) (ServiceConfig, error) {
	cfg := DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ServiceConfig{}, fmt.Errorf("load scanctl config: %w", err)
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.API.ID = id
		}
	}

	if meta.IsDefined("addr") {
		cfg.API.Addr = strings.TrimSpace(raw.Addr)
	}

	if meta.IsDefined("cors_origins") {
		cfg.API.CORSOrigins = normalizeList(raw.CORSOrigins)
	}

	if meta.IsDefined("max_concurrent") {
		cfg.Scheduler.MaxConcurrent = raw.MaxConcurrent
	}

	if meta.IsDefined("poll_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PollInterval))
		if err != nil {
			return ServiceConfig{}, fmt.Errorf("parse poll_interval: %w", err)
		}
		cfg.Scheduler.PollInterval = d
	}

	if meta.IsDefined("default_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.DefaultTimeout))
		if err != nil {
			return ServiceConfig{}, fmt.Errorf("parse default_timeout: %w", err)
		}
		cfg.DefaultTimeout = d
	}

	if meta.IsDefined("drain_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.DrainTimeout))
		if err != nil {
			return ServiceConfig{}, fmt.Errorf("parse drain_timeout: %w", err)
		}
		cfg.DrainTimeout = d
	}

	if meta.IsDefined("catalog") {
		cfg.CatalogPath = strings.TrimSpace(raw.Catalog)
	}

	if meta.IsDefined("docker_binary") {
		cfg.DockerBinary = strings.TrimSpace(raw.DockerBinary)
	}

	if err := cfg.Scheduler.Validate(); err != nil {
		return ServiceConfig{}, err
	}
	return cfg, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
