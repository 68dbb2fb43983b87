// Package filetree maintains an in-memory mirror of each sandbox's
// workspace and the before-content snapshots used for diffing.
package filetree

import (
	"context"
	"sync"

	"github.com/liveforge-dev/liveforge/internal/sandbox"
)

// Diff is a before/after content pair for one file.
type Diff struct {
	Path   string `json:"path"`
	Before string `json:"before"`
	After  string `json:"after"`
	// Created is true when the file did not exist before the first
	// write in this session.
	Created bool `json:"created"`
}

// Synchronizer caches one FileEntry tree per sandbox. The cache is
// best effort: stale reads are acceptable, and the tree is rebuildable
// from the live sandbox at any time.
type Synchronizer struct {
	provider sandbox.Provider

	mu    sync.RWMutex
	trees map[string][]sandbox.FileEntry
	// prior holds the content each path had before the first write of
	// the session, keyed by sandbox then path.
	prior map[string]map[string]snapshot
}

type snapshot struct {
	content string
	existed bool
}

// New creates a synchronizer over the given provider.
func New(provider sandbox.Provider) *Synchronizer {
	return &Synchronizer{
		provider: provider,
		trees:    make(map[string][]sandbox.FileEntry),
		prior:    make(map[string]map[string]snapshot),
	}
}

// Tree returns the cached workspace tree for the sandbox, building it
// from the live listing on first use.
func (s *Synchronizer) Tree(ctx context.Context, sandboxID string) ([]sandbox.FileEntry, error) {
	s.mu.RLock()
	tree, ok := s.trees[sandboxID]
	s.mu.RUnlock()
	if ok {
		return tree, nil
	}
	return s.Refresh(ctx, sandboxID)
}

// Refresh rebuilds the cached tree from the live sandbox.
func (s *Synchronizer) Refresh(ctx context.Context, sandboxID string) ([]sandbox.FileEntry, error) {
	sb, err := s.provider.Get(ctx, sandboxID)
	if err != nil {
		return nil, err
	}
	tree, err := s.provider.ListFiles(ctx, sb.ContainerID, "")
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.trees[sandboxID] = tree
	s.mu.Unlock()
	return tree, nil
}

// Invalidate drops the cached tree so the next Tree call rebuilds it.
func (s *Synchronizer) Invalidate(sandboxID string) {
	s.mu.Lock()
	delete(s.trees, sandboxID)
	s.mu.Unlock()
}

// RecordWrite captures the pre-write content of a path. Only the first
// write per path is recorded: the diff base is what the file looked
// like before the generation touched it.
func (s *Synchronizer) RecordWrite(sandboxID, path, before string, existed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.prior[sandboxID]
	if !ok {
		m = make(map[string]snapshot)
		s.prior[sandboxID] = m
	}
	if _, seen := m[path]; !seen {
		m[path] = snapshot{content: before, existed: existed}
	}
}

// Diff returns the before/after contents of a path. Before comes from
// the recorded snapshot; after is read from the live sandbox.
func (s *Synchronizer) Diff(ctx context.Context, sandboxID, path string) (*Diff, error) {
	sb, err := s.provider.Get(ctx, sandboxID)
	if err != nil {
		return nil, err
	}
	after, err := s.provider.ReadFile(ctx, sb.ContainerID, path)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	snap, haveSnap := s.prior[sandboxID][path]
	s.mu.RUnlock()

	d := &Diff{Path: path, After: string(after)}
	if haveSnap {
		d.Before = snap.content
		d.Created = !snap.existed
	}
	return d, nil
}

// ModifiedPaths returns the paths written during this session, for the
// UI's changed-files listing.
func (s *Synchronizer) ModifiedPaths(sandboxID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.prior[sandboxID]
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	return paths
}

// Forget drops all state for a sandbox after it is destroyed.
func (s *Synchronizer) Forget(sandboxID string) {
	s.mu.Lock()
	delete(s.trees, sandboxID)
	delete(s.prior, sandboxID)
	s.mu.Unlock()
}
