// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the States service configuration.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then STATES_* environment variables. Command-line flags are applied by
// the caller last. The result is checked with go-playground/validator.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianStates/pkg/logging"
	"github.com/AleutianAI/AleutianStates/services/states/storage"
	"github.com/AleutianAI/AleutianStates/services/states/telemetry"
)

// ServerConfig configures the HTTP listener and request handling.
type ServerConfig struct {
	// Host is the listen address. Empty listens on every interface.
	Host string `yaml:"host"`

	// Port is the TCP port.
	Port int `yaml:"port" validate:"gte=1,lte=65535"`

	// BasePath is the API prefix, e.g. "/api/v1".
	BasePath string `yaml:"base_path" validate:"required,startswith=/"`

	// RateLimit is requests per second per client. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`

	// RateBurst is the per-client burst. Zero derives it from RateLimit.
	RateBurst int `yaml:"rate_burst" validate:"gte=0"`

	// MaxBodyBytes caps request bodies. Zero uses the handler default.
	MaxBodyBytes int64 `yaml:"max_body_bytes" validate:"gte=0"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`

	// Events enables the WebSocket change feed.
	Events bool `yaml:"events"`
}

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Storage   storage.Config   `yaml:"storage"`
	Logging   logging.Config   `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			BasePath:        "/api/v1",
			ShutdownTimeout: 15 * time.Second,
			Events:          true,
		},
		Storage: storage.DefaultConfig(),
		Logging: logging.Config{
			Level:   logging.LevelInfo,
			Service: "states",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Addr returns the listen address for http.Server.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

var validate = validator.New()

// Validate checks every validate tag in the tree.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (value %v)", first.Namespace(), first.Tag(), first.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Load builds a Config from defaults, the YAML file at path and the
// environment, then validates it.
//
// Description:
//
//	An empty path skips the file. Keys missing from the file keep their
//	defaults. Unknown keys are an error so typos do not pass silently.
//
// Inputs:
//
//	path - YAML file, or "".
//
// Outputs:
//
//	Config - The merged configuration.
//	error - Non-nil if the file cannot be read or parsed, an environment
//	        value is malformed, or validation fails.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := Parse(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse overlays YAML data onto cfg. An empty document changes nothing.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides cfg from STATES_* variables.
//
// Recognized variables: STATES_HOST, STATES_PORT, STATES_BASE_PATH,
// STATES_RATE_LIMIT, STATES_STORAGE_TYPE, STATES_STORAGE_PATH and
// STATES_LOG_LEVEL.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if v, ok := lookup("STATES_HOST"); ok {
		cfg.Server.Host = v
	}
	if v, ok := lookup("STATES_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("STATES_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v, ok := lookup("STATES_BASE_PATH"); ok {
		cfg.Server.BasePath = v
	}
	if v, ok := lookup("STATES_RATE_LIMIT"); ok {
		limit, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("STATES_RATE_LIMIT: %w", err)
		}
		cfg.Server.RateLimit = limit
	}
	if v, ok := lookup("STATES_STORAGE_TYPE"); ok {
		cfg.Storage.Type = v
	}
	if v, ok := lookup("STATES_STORAGE_PATH"); ok {
		cfg.Storage.Path = v
	}
	if v, ok := lookup("STATES_LOG_LEVEL"); ok {
		level, err := logging.ParseLevel(v)
		if err != nil {
			return fmt.Errorf("STATES_LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}
	return nil
}
