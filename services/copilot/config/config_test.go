// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.BackendURL != "http://localhost:8021" {
		t.Errorf("BackendURL = %q, want default", cfg.BackendURL)
	}
	if cfg.BackendTimeout != 60*time.Second {
		t.Errorf("BackendTimeout = %v, want 60s", cfg.BackendTimeout)
	}
	if cfg.HistoryTurns != 10 {
		t.Errorf("HistoryTurns = %d, want 10", cfg.HistoryTurns)
	}
	if cfg.ProposalTTL != time.Hour {
		t.Errorf("ProposalTTL = %v, want 1h", cfg.ProposalTTL)
	}
	if !cfg.AuditEnabled || !cfg.AuditHashContent {
		t.Error("audit defaults should be enabled")
	}
	if cfg.ExtraGreenTools == nil || len(cfg.ExtraGreenTools) != 0 {
		t.Errorf("ExtraGreenTools = %v, want empty non-nil map", cfg.ExtraGreenTools)
	}
	if cfg.Language != "en" {
		t.Errorf("Language = %q, want en", cfg.Language)
	}
	if cfg.StoreDir != "" || cfg.SafetyOverridesPath != "" {
		t.Error("persistence and overrides should be off by default")
	}
	if cfg.SessionRetention != 0 {
		t.Errorf("SessionRetention = %v, want 0", cfg.SessionRetention)
	}
	if cfg.QueryRPS != 0 || cfg.QueryBurst != 5 {
		t.Errorf("rate limit defaults = %v/%d, want 0/5", cfg.QueryRPS, cfg.QueryBurst)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("COPILOT_BACKEND_URL", "http://bioviz:9000")
	t.Setenv("COPILOT_BACKEND_TIMEOUT_SECONDS", "5")
	t.Setenv("COPILOT_HISTORY_TURNS", "4")
	t.Setenv("COPILOT_PROPOSAL_TTL_SECONDS", "120")
	t.Setenv("COPILOT_AUDIT_ENABLED", "false")
	t.Setenv("COPILOT_EXTRA_GREEN_TOOLS", "render_pathway, zoom_view")
	t.Setenv("COPILOT_LANGUAGE", "de")
	t.Setenv("COPILOT_SAFETY_OVERRIDES", "/etc/copilot/tiers.yaml")
	t.Setenv("COPILOT_STORE_DIR", "/var/lib/copilot")
	t.Setenv("COPILOT_SESSION_RETENTION_HOURS", "72")
	t.Setenv("COPILOT_QUERY_RPS", "2.5")
	t.Setenv("COPILOT_QUERY_BURST", "10")

	cfg := Load()

	if cfg.BackendURL != "http://bioviz:9000" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.BackendTimeout != 5*time.Second {
		t.Errorf("BackendTimeout = %v, want 5s", cfg.BackendTimeout)
	}
	if cfg.HistoryTurns != 4 {
		t.Errorf("HistoryTurns = %d, want 4", cfg.HistoryTurns)
	}
	if cfg.ProposalTTL != 2*time.Minute {
		t.Errorf("ProposalTTL = %v, want 2m", cfg.ProposalTTL)
	}
	if cfg.AuditEnabled {
		t.Error("AuditEnabled should be false")
	}
	if !cfg.ExtraGreenTools["zoom_view"] || !cfg.ExtraGreenTools["render_pathway"] {
		t.Errorf("ExtraGreenTools = %v, want trimmed entries", cfg.ExtraGreenTools)
	}
	if cfg.Language != "de" {
		t.Errorf("Language = %q, want de", cfg.Language)
	}
	if cfg.SafetyOverridesPath != "/etc/copilot/tiers.yaml" {
		t.Errorf("SafetyOverridesPath = %q", cfg.SafetyOverridesPath)
	}
	if cfg.StoreDir != "/var/lib/copilot" {
		t.Errorf("StoreDir = %q", cfg.StoreDir)
	}
	if cfg.SessionRetention != 72*time.Hour {
		t.Errorf("SessionRetention = %v, want 72h", cfg.SessionRetention)
	}
	if cfg.QueryRPS != 2.5 {
		t.Errorf("QueryRPS = %v, want 2.5", cfg.QueryRPS)
	}
	if cfg.QueryBurst != 10 {
		t.Errorf("QueryBurst = %d, want 10", cfg.QueryBurst)
	}
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("COPILOT_HISTORY_TURNS", "lots")
	t.Setenv("COPILOT_AUDIT_ENABLED", "affirmative")

	cfg := Load()

	if cfg.HistoryTurns != 10 {
		t.Errorf("HistoryTurns = %d, want default 10", cfg.HistoryTurns)
	}
	if !cfg.AuditEnabled {
		t.Error("AuditEnabled should fall back to true")
	}
}
