package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/rogersf/backdp/internal/clearance"
	"github.com/rogersf/backdp/internal/domain"
	"github.com/rogersf/backdp/internal/dp"
)

// Config holds backdp's runtime configuration.
type Config struct {
	DBPath     string  `json:"db_path"`
	ListenAddr string  `json:"listen_addr"`
	Workers    int     `json:"workers"`
	Traces     int     `json:"traces"`
	Seed       uint64  `json:"seed"`
	ChartPath  string  `json:"chart_path"`
	Tolerance  float64 `json:"tolerance"`

	RateLimitPerMinute int `json:"rate_limit_per_minute"`
	MaxConcurrentRuns  int `json:"max_concurrent_runs"`
	MaxStates          int `json:"max_states"`

	Clearance clearance.Params `json:"clearance"`
}

// Load reads a JSON config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config JSON: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":9810"
	}
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Traces == 0 {
		c.Traces = 10000
	}
	if c.Tolerance == 0 {
		c.Tolerance = dp.DefaultTolerance
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if c.MaxConcurrentRuns == 0 {
		c.MaxConcurrentRuns = 2
	}
	if c.MaxStates == 0 {
		c.MaxStates = 1_000_000
	}
}

func (c *Config) validate() error {
	var problems []string

	if c.DBPath == "" {
		problems = append(problems, "db_path is required")
	}
	if c.Workers < 0 {
		problems = append(problems, "workers must not be negative")
	}
	if c.Traces < 0 {
		problems = append(problems, "traces must not be negative")
	}
	if c.Tolerance < 0 || c.Tolerance >= 1 {
		problems = append(problems, "tolerance must be in [0, 1)")
	}
	if c.RateLimitPerMinute < 0 {
		problems = append(problems, "rate_limit_per_minute must not be negative")
	}
	if c.MaxConcurrentRuns < 0 {
		problems = append(problems, "max_concurrent_runs must not be negative")
	}
	if c.MaxStates < 0 {
		problems = append(problems, "max_states must not be negative")
	}
	if err := c.Clearance.Validate(); err != nil {
		var engErr *domain.EngineError
		if errors.As(err, &engErr) {
			problems = append(problems, "clearance: "+engErr.Message)
		} else {
			problems = append(problems, "clearance: "+err.Error())
		}
	}

	if len(problems) > 0 {
		return &domain.EngineError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}
