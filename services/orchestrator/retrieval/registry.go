// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Factory builds a new empty index for a key.
type Factory func(ctx context.Context, key Key) (Index, error)

// Registry caches one Index per workspace key.
//
// # Description
//
//	Concurrent first requests for the same workspace must not each build
//	their own index. The registry collapses them: exactly one caller runs
//	the factory, the rest block and receive the same Index instance.
//
// # Limitations
//
//   - Failed factory calls are not cached; the next request retries.
type Registry struct {
	mu      sync.RWMutex
	indexes map[string]Index
	group   singleflight.Group
	factory Factory
	logger  *slog.Logger
}

// NewRegistry builds a registry around the given factory.
func NewRegistry(factory Factory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		indexes: make(map[string]Index),
		factory: factory,
		logger:  logger,
	}
}

// LoadOrCreate returns the cached index for key, building it on first use.
func (r *Registry) LoadOrCreate(ctx context.Context, key Key) (Index, error) {
	id := key.String()

	r.mu.RLock()
	idx, ok := r.indexes[id]
	r.mu.RUnlock()
	if ok {
		return idx, nil
	}

	v, err, _ := r.group.Do(id, func() (interface{}, error) {
		r.mu.RLock()
		cached, hit := r.indexes[id]
		r.mu.RUnlock()
		if hit {
			return cached, nil
		}

		built, buildErr := r.factory(ctx, key)
		if buildErr != nil {
			return nil, &IndexError{Op: "create", Key: id, Err: buildErr}
		}

		r.mu.Lock()
		r.indexes[id] = built
		r.mu.Unlock()
		r.logger.Debug("created workspace index", "key", id)
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Index), nil
}

// Peek returns the cached index without creating one.
func (r *Registry) Peek(key Key) (Index, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.indexes[key.String()]
	return idx, ok
}

// Evict drops the cached index for key, if any.
func (r *Registry) Evict(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.indexes, key.String())
}
