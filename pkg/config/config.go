// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config defines the service configuration.
//
// Every section implements SetDefaults and Validate; the loader applies
// defaults after merging YAML and environment sources, then validates the
// whole tree once.
package config

import "fmt"

// Config is the root configuration for the service.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Database    DatabaseConfig    `yaml:"database"`
	Cache       CacheConfig       `yaml:"cache"`
	Blob        BlobConfig        `yaml:"blob"`
	SearchIndex SearchIndexConfig `yaml:"search_index"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Extraction  ExtractionConfig  `yaml:"extraction"`
	Embedders   EmbeddersConfig   `yaml:"embedders"`
	LLM         LLMConfig         `yaml:"llm"`
	Web         WebConfig         `yaml:"web"`
	Research    ResearchConfig    `yaml:"research"`
}

// SetDefaults applies default values to all sections.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Logging.SetDefaults()
	c.Database.SetDefaults()
	c.Cache.SetDefaults()
	c.Blob.SetDefaults()
	c.SearchIndex.SetDefaults()
	c.Retrieval.SetDefaults()
	c.Chunking.SetDefaults()
	c.Extraction.SetDefaults()
	c.Embedders.SetDefaults()
	c.LLM.SetDefaults()
	c.Web.SetDefaults()
	c.Research.SetDefaults()
}

// Validate checks all sections for errors.
func (c *Config) Validate() error {
	validators := []struct {
		name string
		fn   func() error
	}{
		{"server", c.Server.Validate},
		{"logging", c.Logging.Validate},
		{"database", c.Database.Validate},
		{"cache", c.Cache.Validate},
		{"blob", c.Blob.Validate},
		{"search_index", c.SearchIndex.Validate},
		{"retrieval", c.Retrieval.Validate},
		{"chunking", c.Chunking.Validate},
		{"extraction", c.Extraction.Validate},
		{"embedders", c.Embedders.Validate},
		{"llm", c.LLM.Validate},
		{"web", c.Web.Validate},
		{"research", c.Research.Validate},
	}
	for _, v := range validators {
		if err := v.fn(); err != nil {
			return fmt.Errorf("%s: %w", v.name, err)
		}
	}
	return nil
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	ReadTimeoutSeconds  int `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds"`

	// RequestTimeoutSeconds is the per-handler deadline.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`

	// MaxUploadBytes caps a single multipart upload.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// SetDefaults applies default values.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeoutSeconds <= 0 {
		c.ReadTimeoutSeconds = 60
	}
	if c.WriteTimeoutSeconds <= 0 {
		c.WriteTimeoutSeconds = 180
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = 150
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 100 << 20
	}
}

// Validate checks the configuration.
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	return nil
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level"`

	// Format: simple, json, or text.
	Format string `yaml:"format"`

	// File is an optional log file path; empty logs to stderr.
	File string `yaml:"file"`
}

// SetDefaults applies default values.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

// Validate checks the configuration.
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("invalid log level: %q", c.Level)
	}
}
