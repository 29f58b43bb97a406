package types

import (
	"context"
)

// EngineHandle is an opaque handle to a constructed inference engine.
// The cache entry that commits a handle owns it exclusively and must
// call Release before its slot is considered free.
type EngineHandle interface {
	// MemoryBytes reports the estimated memory footprint of the loaded
	// engine. Figures are estimates, not measured resident-set size.
	MemoryBytes() int64

	// Release frees the engine and all memory backing it.
	Release() error
}

// Loader parses model weights at path and constructs an inference engine.
// Loads are expensive (seconds, gigabytes); failures propagate to the
// caller without internal retry.
type Loader func(ctx context.Context, path string) (EngineHandle, error)

// Hasher computes a content hash for the file at path. It is invoked
// once at registration time and again only on explicit re-validation.
type Hasher interface {
	Hash(path string) (string, error)
}

// MemoryProbe reads a fresh system memory snapshot.
type MemoryProbe interface {
	ReadSystemMemory() (SystemMemory, error)
}
