// roomsync - A chat timeline sync engine with moderation-gated sends.
// Copyright (C) 2025 Rowan Veldt
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package config loads and validates the roomsync YAML configuration.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full client configuration.
type Config struct {
	UserID string `yaml:"user_id" validate:"required"`
	RoomID string `yaml:"room_id" validate:"required"`

	// PageSize is the backward-pagination fetch size. Default 10.
	PageSize int `yaml:"page_size" validate:"gte=0"`

	Transport  TransportConfig  `yaml:"transport"`
	Moderation ModerationConfig `yaml:"moderation"`
	Logging    LoggingConfig    `yaml:"logging"`

	// MetricsListenAddr exposes prometheus metrics when set (host:port).
	MetricsListenAddr string `yaml:"metrics_listen_addr"`
}

// TransportConfig points at the chat backend.
type TransportConfig struct {
	// URL is the websocket endpoint, e.g. wss://chat.example.com/v1/ws.
	URL string `yaml:"url" validate:"required"`
	// Token is the bearer token presented on connect.
	Token string `yaml:"token"`
}

// ModerationConfig points at the image scoring service. When disabled, image
// attachments are sent unscored and never flagged.
type ModerationConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint" validate:"required_if=Enabled true"`
	APIKey   string `yaml:"api_key"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is a zerolog level name: trace, debug, info, warn, error.
	Level string `yaml:"level"`
}

type umConfig Config

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	if err := node.Decode((*umConfig)(c)); err != nil {
		return err
	}
	return c.PostProcess()
}

// PostProcess applies defaults after decoding.
func (c *Config) PostProcess() error {
	if c.PageSize == 0 {
		c.PageSize = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	return nil
}

// Load reads, decodes and validates the config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}
