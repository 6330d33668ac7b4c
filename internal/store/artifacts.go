package store

import (
	"sync"

	"github.com/google/uuid"
)

// ArtifactRegistry maps opaque public identifiers to artifact paths relative
// to the output root. Clients only ever see the public id, so real file
// locations are never exposed and cannot be traversed to: Resolve is a pure
// map lookup and never interprets its argument as a path.
type ArtifactRegistry struct {
	mu    sync.RWMutex
	paths map[string]string // public id -> relative path
}

// NewArtifactRegistry returns an empty registry.
func NewArtifactRegistry() *ArtifactRegistry {
	return &ArtifactRegistry{paths: make(map[string]string)}
}

// Register stores relPath under a fresh random public identifier and returns
// it. An existing mapping is never overwritten; identifiers are never
// reused.
func (r *ArtifactRegistry) Register(relPath string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		id := uuid.NewString()
		if _, taken := r.paths[id]; taken {
			continue // 128-bit collision; effectively unreachable
		}
		r.paths[id] = relPath
		return id
	}
}

// Resolve returns the relative path registered under publicID, or false when
// the id is unknown. The result is stable for the life of the process.
func (r *ArtifactRegistry) Resolve(publicID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.paths[publicID]
	return p, ok
}

// Len returns the number of registered artifacts.
func (r *ArtifactRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.paths)
}
