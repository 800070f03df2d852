// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy_engine enforces tenant isolation policy for the
// orchestrator: which agents a tenant may use, how large a query may be,
// and how many requests per minute each tenant gets.
//
// # Description
//
// Policy is tier based. The default tiers are embedded into the binary via
// the embed directive so the engine always has a usable configuration, the
// same way the data classification patterns were embedded in earlier
// Aleutian services. Deployments can override the defaults with a YAML file
// that is hot reloaded on change (see WatchFile).
//
// # Thread Safety
//
// All methods are safe for concurrent use. Configuration swaps are guarded
// by a read-write mutex; per-tenant rate limiters use token buckets from
// golang.org/x/time/rate.
package policy_engine

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// embeddedPolicies is the compiled-in default tier configuration.
//
//go:embed tenant_policies.yaml
var embeddedPolicies []byte

// =============================================================================
// Configuration Types
// =============================================================================

// TierPolicy is the policy attached to one tier.
type TierPolicy struct {
	// AllowedAgents lists the agent names this tier may dispatch to.
	AllowedAgents []string `yaml:"allowed_agents"`

	// MaxQueryLength bounds the query size in runes. 0 means unlimited.
	MaxQueryLength int `yaml:"max_query_length"`

	// RequestsPerMinute is the sustained per-tenant request rate.
	// 0 disables rate limiting for the tier.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// PolicyConfig is the full policy document.
type PolicyConfig struct {
	// DefaultTier applies to tenants without an explicit assignment.
	DefaultTier string `yaml:"default_tier"`

	// Tiers maps tier name to its policy.
	Tiers map[string]TierPolicy `yaml:"tiers"`

	// Tenants maps tenant ID to tier name.
	Tenants map[string]string `yaml:"tenants"`
}

// =============================================================================
// Engine
// =============================================================================

// Engine evaluates tenant policy for the orchestrator's routing decisions.
type Engine struct {
	mu       sync.RWMutex
	cfg      PolicyConfig
	limiters map[string]*rate.Limiter
	logger   *slog.Logger
}

// NewEngine creates an Engine loaded with the embedded default policies.
//
// # Outputs
//
//   - *Engine: Ready-to-use policy engine.
//   - error: Non-nil if the embedded YAML fails to parse, which indicates
//     a build defect rather than a runtime condition.
func NewEngine(logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		limiters: make(map[string]*rate.Limiter),
		logger:   logger.With("component", "policy_engine"),
	}
	if err := e.loadBytes(embeddedPolicies); err != nil {
		return nil, fmt.Errorf("failed to parse embedded tenant policies: %w", err)
	}
	return e, nil
}

// LoadFile replaces the current configuration with the contents of a policy
// file. Rate limiters are rebuilt lazily after a swap so updated rates take
// effect for subsequent requests.
func (e *Engine) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read policy file %s: %w", path, err)
	}
	if err := e.loadBytes(raw); err != nil {
		return fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	e.logger.Info("Loaded tenant policy file", "path", path)
	return nil
}

func (e *Engine) loadBytes(raw []byte) error {
	var cfg PolicyConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return err
	}
	if cfg.DefaultTier == "" {
		cfg.DefaultTier = "free"
	}
	if _, ok := cfg.Tiers[cfg.DefaultTier]; !ok {
		return fmt.Errorf("default tier %q is not defined", cfg.DefaultTier)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	// Drop the old limiters so new rates apply.
	e.limiters = make(map[string]*rate.Limiter)
	return nil
}

// WatchFile hot-reloads the policy file whenever it changes on disk.
//
// # Description
//
// Runs until the context is canceled. Reload failures keep the previous
// configuration and are logged; a broken edit never takes a running service
// down.
//
// # Inputs
//
//   - ctx: Cancels the watch.
//   - path: Policy file to watch. Must already load successfully once
//     before watching starts.
func (e *Engine) WatchFile(ctx context.Context, path string) error {
	if err := e.LoadFile(path); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch policy file %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := e.LoadFile(path); err != nil {
					e.logger.Error("Policy reload failed, keeping previous configuration",
						"path", path, "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				e.logger.Error("Policy watcher error", "error", err)
			}
		}
	}()

	return nil
}

// =============================================================================
// Policy Evaluation
// =============================================================================

// TierFor resolves a tenant's tier policy.
func (e *Engine) TierFor(tenantID string) (string, TierPolicy) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	name, ok := e.cfg.Tenants[tenantID]
	if !ok {
		name = e.cfg.DefaultTier
	}
	tier, ok := e.cfg.Tiers[name]
	if !ok {
		name = e.cfg.DefaultTier
		tier = e.cfg.Tiers[name]
	}
	return name, tier
}

// IsAgentAllowed reports whether the tenant's tier may dispatch to the
// named agent.
func (e *Engine) IsAgentAllowed(tenantID, agent string) bool {
	_, tier := e.TierFor(tenantID)
	for _, allowed := range tier.AllowedAgents {
		if allowed == agent {
			return true
		}
	}
	return false
}

// ValidateRequest checks a request against the tenant's tier before
// dispatch.
//
// # Outputs
//
//   - bool: True when the request may proceed.
//   - string: Human-readable denial reason when it may not. The reason is
//     surfaced to the end user by the graceful fallback node, so it must
//     not leak internals.
func (e *Engine) ValidateRequest(tenantID, query, agent string) (bool, string) {
	tierName, tier := e.TierFor(tenantID)

	if tier.MaxQueryLength > 0 && len([]rune(query)) > tier.MaxQueryLength {
		return false, fmt.Sprintf("query exceeds the %d-character limit for the %s tier", tier.MaxQueryLength, tierName)
	}
	if agent != "" && !e.IsAgentAllowed(tenantID, agent) {
		return false, fmt.Sprintf("the %s capability is not available on the %s tier", agent, tierName)
	}
	if !e.allow(tenantID, tier) {
		return false, fmt.Sprintf("request rate limit reached for the %s tier, please retry shortly", tierName)
	}
	return true, ""
}

// allow consumes one token from the tenant's rate limiter.
func (e *Engine) allow(tenantID string, tier TierPolicy) bool {
	if tier.RequestsPerMinute <= 0 {
		return true
	}

	e.mu.Lock()
	limiter, ok := e.limiters[tenantID]
	if !ok {
		// Burst of one minute's allowance, refilled continuously.
		limiter = rate.NewLimiter(rate.Limit(float64(tier.RequestsPerMinute)/60.0), tier.RequestsPerMinute)
		e.limiters[tenantID] = limiter
	}
	e.mu.Unlock()

	return limiter.Allow()
}
