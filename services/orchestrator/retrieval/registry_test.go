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
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryReusesIndexPerKey(t *testing.T) {
	var calls atomic.Int64
	reg := NewRegistry(func(_ context.Context, key Key) (Index, error) {
		calls.Add(1)
		return NewMemoryIndex(key), nil
	}, nil)

	key := Key{Tenant: "acme", User: "u1", Workspace: "ws1"}

	first, err := reg.LoadOrCreate(context.Background(), key)
	require.NoError(t, err)
	second, err := reg.LoadOrCreate(context.Background(), key)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), calls.Load())
}

func TestRegistryIsolatesKeys(t *testing.T) {
	reg := NewRegistry(func(_ context.Context, key Key) (Index, error) {
		return NewMemoryIndex(key), nil
	}, nil)

	a, err := reg.LoadOrCreate(context.Background(), Key{Tenant: "acme", User: "u1", Workspace: "ws1"})
	require.NoError(t, err)
	b, err := reg.LoadOrCreate(context.Background(), Key{Tenant: "acme", User: "u1", Workspace: "ws2"})
	require.NoError(t, err)

	assert.NotSame(t, a, b)
}

func TestRegistryConcurrentCreateRunsFactoryOnce(t *testing.T) {
	var calls atomic.Int64
	reg := NewRegistry(func(_ context.Context, key Key) (Index, error) {
		calls.Add(1)
		return NewMemoryIndex(key), nil
	}, nil)

	key := Key{Tenant: "acme", User: "u1", Workspace: "shared"}

	const workers = 16
	results := make([]Index, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			idx, err := reg.LoadOrCreate(context.Background(), key)
			require.NoError(t, err)
			results[slot] = idx
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for _, idx := range results[1:] {
		assert.Same(t, results[0], idx)
	}
}

func TestRegistryFactoryFailureNotCached(t *testing.T) {
	var calls atomic.Int64
	reg := NewRegistry(func(_ context.Context, key Key) (Index, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("backend unavailable")
		}
		return NewMemoryIndex(key), nil
	}, nil)

	key := Key{Tenant: "acme", User: "u1", Workspace: "flaky"}

	_, err := reg.LoadOrCreate(context.Background(), key)
	require.Error(t, err)
	var idxErr *IndexError
	require.ErrorAs(t, err, &idxErr)
	assert.Equal(t, "create", idxErr.Op)

	idx, err := reg.LoadOrCreate(context.Background(), key)
	require.NoError(t, err)
	assert.NotNil(t, idx)
	assert.Equal(t, int64(2), calls.Load())
}

func TestRegistrySnapshotSurvivesEviction(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(func(_ context.Context, key Key) (Index, error) {
		return LoadMemoryIndex(SnapshotPath(dir, key.Workspace), key)
	}, nil)

	key := Key{Tenant: "acme", User: "u1", Workspace: "acme"}

	idx, err := reg.LoadOrCreate(context.Background(), key)
	require.NoError(t, err)
	require.NoError(t, idx.AddDocuments(context.Background(), []Chunk{
		{Text: "the billing migration lands in October", Source: "plan.md", DocID: "d1"},
	}))
	require.NoError(t, idx.SaveToPath(context.Background(), SnapshotPath(dir, key.Workspace)))

	// Simulates a restart: the cached index is gone but the snapshot
	// remains, and the factory rebuilds from it.
	reg.Evict(key)

	reloaded, err := reg.LoadOrCreate(context.Background(), key)
	require.NoError(t, err)
	hits, err := reloaded.SimilaritySearch(context.Background(), "billing migration", 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d1", hits[0].DocID)
}

func TestRegistryEvict(t *testing.T) {
	reg := NewRegistry(func(_ context.Context, key Key) (Index, error) {
		return NewMemoryIndex(key), nil
	}, nil)

	key := Key{Tenant: "acme", User: "u1", Workspace: "ws1"}
	first, err := reg.LoadOrCreate(context.Background(), key)
	require.NoError(t, err)

	reg.Evict(key)
	_, ok := reg.Peek(key)
	assert.False(t, ok)

	second, err := reg.LoadOrCreate(context.Background(), key)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}
