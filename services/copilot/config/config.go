// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads copilot service configuration from COPILOT_*
// environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the copilot service.
//
// Description:
//
//	Loaded from environment variables at startup via Load(). All fields
//	have safe defaults (audit enabled, conservative tier fallbacks, one
//	hour proposal TTL).
//
// Thread Safety: Config is a value type. Safe to copy and share after loading.
type Config struct {
	// BackendURL is the base URL of the agent action backend.
	// Env: COPILOT_BACKEND_URL (default: "http://localhost:8021")
	BackendURL string

	// BackendTimeout bounds each backend HTTP call.
	// Env: COPILOT_BACKEND_TIMEOUT_SECONDS (default: 60)
	BackendTimeout time.Duration

	// HistoryTurns is how many recent turns accompany each query.
	// Env: COPILOT_HISTORY_TURNS (default: 10)
	HistoryTurns int

	// ProposalTTL is how long a proposal may sit PENDING before the
	// sweep rejects it.
	// Env: COPILOT_PROPOSAL_TTL_SECONDS (default: 3600)
	ProposalTTL time.Duration

	// SweepInterval is how often the TTL sweep runs.
	// Env: COPILOT_SWEEP_INTERVAL_SECONDS (default: 300)
	SweepInterval time.Duration

	// AuditEnabled controls whether proposal audit logging is active.
	// Env: COPILOT_AUDIT_ENABLED (default: "true")
	AuditEnabled bool

	// AuditHashContent controls whether proposal text is SHA256-hashed
	// in audit logs.
	// Env: COPILOT_AUDIT_HASH_CONTENT (default: "true")
	AuditHashContent bool

	// ExtraGreenTools names additional tools to admit at GREEN tier,
	// for deployments that trust more of their toolset.
	// Env: COPILOT_EXTRA_GREEN_TOOLS (comma-separated, default: "")
	ExtraGreenTools map[string]bool

	// SafetyOverridesPath points at an optional YAML file of per-tool
	// tier overrides, watched for changes at runtime.
	// Env: COPILOT_SAFETY_OVERRIDES (default: "")
	SafetyOverridesPath string

	// StoreDir is the BadgerDB directory for session persistence.
	// Empty disables persistence and sessions live in memory only.
	// Env: COPILOT_STORE_DIR (default: "")
	StoreDir string

	// SessionRetention is how long stored sessions survive without a
	// write before BadgerDB ages them out. <= 0 means keep forever.
	// Env: COPILOT_SESSION_RETENTION_HOURS (default: 0)
	SessionRetention time.Duration

	// QueryRPS caps sustained queries per second per session. <= 0
	// disables rate limiting.
	// Env: COPILOT_QUERY_RPS (default: 0)
	QueryRPS float64

	// QueryBurst is the per-session burst allowance when QueryRPS is set.
	// Env: COPILOT_QUERY_BURST (default: 5)
	QueryBurst int

	// Language is the default narration language for analysis context.
	// Env: COPILOT_LANGUAGE (default: "en")
	Language string

	// LogLevel selects the slog level: debug, info, warn, error.
	// Env: COPILOT_LOG_LEVEL (default: "info")
	LogLevel string
}

// Load reads copilot configuration from environment variables.
//
// Outputs:
//   - *Config: Fully populated configuration.
func Load() *Config {
	return &Config{
		BackendURL:       envString("COPILOT_BACKEND_URL", "http://localhost:8021"),
		BackendTimeout:   time.Duration(envInt("COPILOT_BACKEND_TIMEOUT_SECONDS", 60)) * time.Second,
		HistoryTurns:     envInt("COPILOT_HISTORY_TURNS", 10),
		ProposalTTL:      time.Duration(envInt("COPILOT_PROPOSAL_TTL_SECONDS", 3600)) * time.Second,
		SweepInterval:    time.Duration(envInt("COPILOT_SWEEP_INTERVAL_SECONDS", 300)) * time.Second,
		AuditEnabled:     envBool("COPILOT_AUDIT_ENABLED", true),
		AuditHashContent: envBool("COPILOT_AUDIT_HASH_CONTENT", true),
		ExtraGreenTools:  envSet("COPILOT_EXTRA_GREEN_TOOLS"),
		Language:         envString("COPILOT_LANGUAGE", "en"),
		LogLevel:         envString("COPILOT_LOG_LEVEL", "info"),

		SafetyOverridesPath: envString("COPILOT_SAFETY_OVERRIDES", ""),
		StoreDir:            envString("COPILOT_STORE_DIR", ""),
		SessionRetention:    time.Duration(envInt("COPILOT_SESSION_RETENTION_HOURS", 0)) * time.Hour,
		QueryRPS:            envFloat("COPILOT_QUERY_RPS", 0),
		QueryBurst:          envInt("COPILOT_QUERY_BURST", 5),
	}
}

// envString reads a string environment variable with a default value.
func envString(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// envBool reads a boolean environment variable with a default value.
func envBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

// envInt reads an integer environment variable with a default value.
func envInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// envFloat reads a float environment variable with a default value.
func envFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

// envSet reads a comma-separated environment variable into a set.
// Returns an empty map (not nil) if the variable is unset.
func envSet(key string) map[string]bool {
	result := make(map[string]bool)
	val := os.Getenv(key)
	if val == "" {
		return result
	}
	for _, item := range strings.Split(val, ",") {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			result[trimmed] = true
		}
	}
	return result
}
