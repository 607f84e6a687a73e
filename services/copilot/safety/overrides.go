// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package safety

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/BioCopilot/services/copilot/protocol"
)

// TierOverrides holds deployment-provided per-tool tier overrides.
//
// Description:
//
//	Loaded from the YAML file named by COPILOT_SAFETY_OVERRIDES. All
//	fields are optional. A missing file is not an error (zero-config
//	works out of the box).
//
// Thread Safety: Safe for concurrent reads after construction.
type TierOverrides struct {
	// Tools maps a tool name to its tier: GREEN, YELLOW, or RED.
	// Tools not in the built-in whitelist are added with the given tier.
	// Example: {"run_enrichment": "GREEN", "update_thresholds": "RED"}
	Tools map[string]string `yaml:"tools"`
}

// LoadOverrides reads a tier overrides file.
//
// Description:
//
//	Reads and parses the overrides file. If path is empty or the file
//	does not exist, returns an empty overrides set with no error. Tier
//	strings are validated; an unknown tier fails the whole load so a
//	typo cannot silently loosen the policy.
//
// Inputs:
//
//	path - Path to the YAML overrides file. May be empty.
//
// Outputs:
//
//	TierOverrides - The parsed overrides, or empty if the file is missing.
//	error - Non-nil if the file exists but is invalid.
func LoadOverrides(path string) (TierOverrides, error) {
	if path == "" {
		return TierOverrides{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return TierOverrides{}, nil
		}
		return TierOverrides{}, fmt.Errorf("reading tier overrides: %w", err)
	}

	var overrides TierOverrides
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return TierOverrides{}, fmt.Errorf("parsing tier overrides: %w", err)
	}

	for tool, tier := range overrides.Tools {
		if _, known := protocol.ParseTier(tier); !known {
			return TierOverrides{}, fmt.Errorf("tier overrides: tool %q has unknown tier %q", tool, tier)
		}
	}
	return overrides, nil
}

// Apply builds a new registry with the overrides layered on top of base.
//
// Description:
//
//	Tools named in the overrides get their tier replaced; tools absent
//	from base are appended with the tool name as label. The base
//	registry is not mutated.
func (o TierOverrides) Apply(base *Registry) *Registry {
	defs := base.Definitions()
	for i, d := range defs {
		if tier, ok := o.Tools[d.Name]; ok {
			parsed, _ := protocol.ParseTier(tier)
			defs[i].Tier = parsed
		}
	}
	for tool, tier := range o.Tools {
		if _, exists := base.Lookup(tool); exists {
			continue
		}
		parsed, _ := protocol.ParseTier(tier)
		defs = append(defs, ToolDefinition{Name: tool, Label: tool, Tier: parsed})
	}
	return NewRegistry(defs...)
}

// WatchOverrides reloads the overrides file whenever it changes and
// swaps the classifier's registry.
//
// Description:
//
//	Watches the file's parent directory (editors and config pushers
//	replace files rather than write in place, which drops the watch on
//	the file itself). On every write, create, or rename of the named
//	file the overrides are reloaded and applied over base. A failed
//	reload keeps the previous registry and logs the error.
//
//	Blocks until ctx is cancelled; run it on its own goroutine.
//
// Inputs:
//
//	ctx - Cancellation stops the watch. Must not be nil.
//	path - Path to the overrides file. Must not be empty.
//	base - The registry the overrides layer on. Must not be nil.
//	classifier - Receives the rebuilt registry. Must not be nil.
//	logger - Logger for diagnostic output. Nil falls back to slog.Default().
func WatchOverrides(ctx context.Context, path string, base *Registry, classifier *Classifier, logger *slog.Logger) error {
	if ctx == nil || path == "" || base == nil || classifier == nil {
		return fmt.Errorf("watch overrides: ctx, path, base, and classifier are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating overrides watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	target := filepath.Clean(path)

	logger.Info("watching tier overrides", slog.String("path", target))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			overrides, err := LoadOverrides(path)
			if err != nil {
				logger.Error("tier overrides reload failed, keeping previous registry",
					slog.String("path", target), slog.Any("error", err))
				continue
			}
			classifier.ReplaceRegistry(overrides.Apply(base))
			logger.Info("tier overrides reloaded",
				slog.String("path", target), slog.Int("override_count", len(overrides.Tools)))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("overrides watcher error", slog.Any("error", err))
		}
	}
}
