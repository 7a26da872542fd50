package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// LoadFile layers a YAML config file over the environment configuration.
//
// Keys present in <name>.yaml replace the env-derived value. A sibling
// <name>.local.yaml, when present, is merged on top; its zero values never
// clear what the base file set. Credentials are never read from files.
func LoadFile(name string) (*Config, error) {
	cfg := Load()

	base, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", name, err)
	}
	if err := yaml.Unmarshal(base, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", name, err)
	}

	localPath := localName(name)
	local, err := os.ReadFile(localPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", localPath, err)
	default:
		var override Config
		if err := yaml.Unmarshal(local, &override); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", localPath, err)
		}
		if err := mergo.Merge(cfg, override, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge config %s: %w", localPath, err)
		}
		slog.Info("merging config with local overrides", "local", localPath)
	}

	return cfg, cfg.Validate()
}

func localName(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + ".local" + ext
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Interaction.MaxAttempts < 1 || c.Interaction.MaxAttempts > 2 {
		errs = append(errs, fmt.Errorf("interaction.max_attempts must be 1 or 2, got %d", c.Interaction.MaxAttempts))
	}
	if c.Pagination.StableRounds < 3 {
		errs = append(errs, fmt.Errorf("pagination.stable_rounds must be >= 3, got %d", c.Pagination.StableRounds))
	}
	if c.Pagination.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("pagination.max_iterations must be >= 1, got %d", c.Pagination.MaxIterations))
	}
	if c.Run.Rate <= 0 {
		errs = append(errs, fmt.Errorf("run.rate must be > 0, got %g", c.Run.Rate))
	}
	switch c.Output.Format {
	case "jsonl", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("output.format must be jsonl or sqlite, got %q", c.Output.Format))
	}
	return errors.Join(errs...)
}
