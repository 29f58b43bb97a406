// Package registry maintains per-model metadata: path, content hash,
// size, access statistics and residency status. Records persist for the
// process lifetime; the registry is rebuilt at startup as models are
// re-registered on first request.
package registry

import (
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/modelpool/modelpool/pkg/errors"
	"github.com/modelpool/modelpool/pkg/types"
)

// Registry is a thread-safe in-memory metadata store.
type Registry struct {
	mu     sync.RWMutex
	models map[types.ModelID]*types.ModelMetadata
	hasher types.Hasher
	logger *zap.Logger
}

// New creates a registry backed by the given content hasher.
func New(hasher types.Hasher, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		models: make(map[types.ModelID]*types.ModelMetadata),
		hasher: hasher,
		logger: logger,
	}
}

// Register verifies the model file exists, hashes its contents, and
// stores metadata for id. Re-registering an id whose content hash is
// unchanged is a no-op returning the existing record; a changed hash is
// an integrity violation and the stored hash is left untouched.
func (r *Registry) Register(id types.ModelID, path string) (*types.ModelMetadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeFileNotFound, "model file does not exist").
			WithComponent("registry").
			WithOperation("register").
			WithDetail("path", path).
			WithCause(err)
	}

	hash, err := r.hasher.Hash(path)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeInternalError, "failed to hash model file").
			WithComponent("registry").
			WithOperation("register").
			WithDetail("path", path).
			WithCause(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.models[id]; ok {
		if existing.ContentHash != hash {
			return nil, errors.NewError(errors.ErrCodeHashMismatch, "model content hash changed since registration").
				WithComponent("registry").
				WithOperation("register").
				WithDetail("stored_hash", existing.ContentHash).
				WithDetail("computed_hash", hash)
		}
		return existing, nil
	}

	meta := &types.ModelMetadata{
		ID:          id,
		Path:        path,
		ContentHash: hash,
		SizeBytes:   info.Size(),
		CreatedAt:   time.Now(),
		Status:      types.StatusNotLoaded,
	}
	r.models[id] = meta

	r.logger.Info("model registered",
		zap.String("model", string(id)),
		zap.String("path", path),
		zap.Int64("size_bytes", info.Size()),
		zap.String("hash", hash))

	return meta, nil
}

// Revalidate recomputes the content hash for id and checks it against
// the hash stored at registration. The stored hash is never updated
// here; a mismatch is an integrity violation for the caller to resolve.
func (r *Registry) Revalidate(id types.ModelID) error {
	r.mu.RLock()
	meta, ok := r.models[id]
	if !ok {
		r.mu.RUnlock()
		return errors.NewError(errors.ErrCodeUnknownModel, "model is not registered").
			WithComponent("registry").
			WithOperation("revalidate").
			WithDetail("model", string(id))
	}
	path, stored := meta.Path, meta.ContentHash
	r.mu.RUnlock()

	hash, err := r.hasher.Hash(path)
	if err != nil {
		return errors.NewError(errors.ErrCodeInternalError, "failed to hash model file").
			WithComponent("registry").
			WithOperation("revalidate").
			WithDetail("path", path).
			WithCause(err)
	}
	if hash != stored {
		return errors.NewError(errors.ErrCodeHashMismatch, "model content hash changed since registration").
			WithComponent("registry").
			WithOperation("revalidate").
			WithDetail("stored_hash", stored).
			WithDetail("computed_hash", hash)
	}
	return nil
}

// Get returns the metadata for id.
func (r *Registry) Get(id types.ModelID) (*types.ModelMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.models[id]
	if !ok {
		return nil, errors.NewError(errors.ErrCodeUnknownModel, "model is not registered").
			WithComponent("registry").
			WithDetail("model", string(id))
	}
	copy := *meta
	return &copy, nil
}

// RecordAccess updates the last-access timestamp and access count for
// id. Unknown ids are ignored.
func (r *Registry) RecordAccess(id types.ModelID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	meta, ok := r.models[id]
	if !ok {
		return
	}
	meta.LastAccess = time.Now()
	meta.AccessCount++
}

// SetStatus records a residency state transition for id. Unknown ids
// are ignored.
func (r *Registry) SetStatus(id types.ModelID, status types.CacheStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	meta, ok := r.models[id]
	if !ok {
		return
	}
	meta.Status = status
}

// OldestCached returns resident model ids sorted ascending by
// last-access timestamp. Only Loaded and Preloaded models qualify.
func (r *Registry) OldestCached() []types.ModelID {
	return r.sortedCached(func(a, b *types.ModelMetadata) bool {
		if !a.LastAccess.Equal(b.LastAccess) {
			return a.LastAccess.Before(b.LastAccess)
		}
		return a.ID < b.ID
	})
}

// LeastUsedCached returns resident model ids sorted ascending by access
// count. Only Loaded and Preloaded models qualify.
func (r *Registry) LeastUsedCached() []types.ModelID {
	return r.sortedCached(func(a, b *types.ModelMetadata) bool {
		if a.AccessCount != b.AccessCount {
			return a.AccessCount < b.AccessCount
		}
		return a.ID < b.ID
	})
}

func (r *Registry) sortedCached(less func(a, b *types.ModelMetadata) bool) []types.ModelID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cached := make([]*types.ModelMetadata, 0, len(r.models))
	for _, meta := range r.models {
		if meta.Status == types.StatusLoaded || meta.Status == types.StatusPreloaded {
			cached = append(cached, meta)
		}
	}

	sort.Slice(cached, func(i, j int) bool {
		return less(cached[i], cached[j])
	})

	ids := make([]types.ModelID, len(cached))
	for i, meta := range cached {
		ids[i] = meta.ID
	}
	return ids
}

// Len returns the number of registered models.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}
