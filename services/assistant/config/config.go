// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the assistant service configuration: a YAML file
// for the parts operators tune (tier limits, persona, model knobs) with
// environment variables taking precedence for deployment wiring.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/AleutianAI/AleutianDrive/services/entitlement"
	"gopkg.in/yaml.v3"
)

// defaultPersona is the assistant's system instruction. Operators can
// replace it wholesale in the YAML file.
const defaultPersona = `You are Clank, an expert automotive AI assistant. You specialize in:

- Vehicle diagnostics and troubleshooting
- Car maintenance and repair guidance
- Parts identification and recommendations
- Performance optimization advice
- Safety protocols and procedures

Guidelines:
- Always prioritize safety in your responses
- Provide clear, step-by-step instructions when applicable
- Ask clarifying questions about vehicle make, model, year when needed
- Recommend professional help for complex or dangerous repairs
- Use automotive terminology appropriately but explain technical concepts clearly
- Be encouraging but realistic about DIY repair capabilities

If you're unsure about something automotive-related, say so and recommend consulting a professional mechanic.`

// ProviderConfig points at the identity provider endpoint.
type ProviderConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// RateLimitConfig tunes the per-client request limiter.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Config is the full assistant service configuration.
type Config struct {
	Port    string `yaml:"port"`
	DataDir string `yaml:"data_dir"`

	Model       string  `yaml:"model"`
	Persona     string  `yaml:"persona"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`

	Limits entitlement.Limits `yaml:"limits"`

	// CompatUsageWrites restores the historical read-then-write usage
	// counter update instead of the atomic store increment. Off by
	// default; only useful when comparing against old deployments.
	CompatUsageWrites bool `yaml:"compat_usage_writes"`

	Provider  ProviderConfig  `yaml:"provider"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// Default returns the shipped configuration.
func Default() Config {
	return Config{
		Port:        "12310",
		DataDir:     "/var/lib/aleutiandrive",
		Model:       "gpt-4o-mini",
		Persona:     defaultPersona,
		MaxTokens:   1000,
		Temperature: 0.7,
		Limits:      entitlement.DefaultLimits(),
		RateLimit:   RateLimitConfig{RPS: 5, Burst: 10},
	}
}

// Load reads the YAML file at path (skipped when path is empty) over the
// defaults, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.Limits.Basic <= 0 || cfg.Limits.Pro <= 0 {
		return Config{}, fmt.Errorf("config: tier limits must be positive (basic=%d pro=%d)",
			cfg.Limits.Basic, cfg.Limits.Pro)
	}
	return cfg, nil
}

// applyEnv lets deployment wiring win over the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("ASSISTANT_PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("ASSISTANT_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("IDENTITY_PROVIDER_URL"); v != "" {
		c.Provider.URL = v
	}
	if v := os.Getenv("IDENTITY_PROVIDER_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("ASSISTANT_COMPAT_USAGE_WRITES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.CompatUsageWrites = b
		}
	}
}
