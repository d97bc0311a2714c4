// Package bytearray provides out-of-line storage for large job payloads:
// exception stacktraces, custom values, and oversized handler configuration.
//
// A Ref names a blob without loading it and without fixing the storage
// engine at construction time. The job service is shared across the
// orchestration engines of an installation; each engine persists byte
// arrays in its own table, so a Ref defers backend selection to the moment
// of access through a Resolver.
package bytearray

import (
	"context"
	"fmt"
	"sort"

	"github.com/flowable/jobservice"
	"github.com/flowable/jobservice/id"
)

// Entity is one persisted blob.
type Entity struct {
	jobservice.Entity

	ID    id.ID  `json:"id"`
	Name  string `json:"name"`
	Bytes []byte `json:"bytes"`
}

// Store is the persistence contract for byte arrays. Each engine type owns
// one Store.
type Store interface {
	// InsertByteArray persists a new blob.
	InsertByteArray(ctx context.Context, e *Entity) error

	// GetByteArray retrieves a blob by id.
	GetByteArray(ctx context.Context, byteArrayID id.ID) (*Entity, error)

	// UpdateByteArray overwrites an existing blob (revision checked).
	UpdateByteArray(ctx context.Context, e *Entity) error

	// DeleteByteArray removes a blob by id.
	DeleteByteArray(ctx context.Context, byteArrayID id.ID) error
}

// Resolver maps an engine type to the byte-array store that owns blob
// persistence for that engine. Resolution must be deterministic and free of
// side effects: concurrent calls may race.
type Resolver interface {
	ResolveByteArrayStore(engineType string) (Store, error)
}

// Registry is the standard Resolver: a fixed map from engine type to Store,
// populated at construction and read-only afterwards.
type Registry struct {
	stores map[string]Store
}

// NewRegistry creates a registry over the given engine stores. The map is
// copied; later mutation of the argument does not affect the registry.
func NewRegistry(stores map[string]Store) *Registry {
	copied := make(map[string]Store, len(stores))
	for engineType, s := range stores {
		copied[engineType] = s
	}
	return &Registry{stores: copied}
}

// ResolveByteArrayStore resolves a concrete engine type directly. The
// sentinel jobservice.EngineAll walks a fixed priority order: the process
// engine, then the case engine, then the remaining engines in sorted key
// order. No eligible engine is a configuration error, not a retryable one.
func (r *Registry) ResolveByteArrayStore(engineType string) (Store, error) {
	if engineType != jobservice.EngineAll {
		s, ok := r.stores[engineType]
		if !ok {
			return nil, fmt.Errorf("%w: engine type %q", jobservice.ErrEngineNotRegistered, engineType)
		}
		return s, nil
	}

	if s, ok := r.stores[jobservice.EngineProcess]; ok {
		return s, nil
	}
	if s, ok := r.stores[jobservice.EngineCase]; ok {
		return s, nil
	}

	keys := make([]string, 0, len(r.stores))
	for k := range r.stores {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		return r.stores[keys[0]], nil
	}

	return nil, fmt.Errorf("%w: no engine eligible for %q", jobservice.ErrEngineNotRegistered, engineType)
}

var _ Resolver = (*Registry)(nil)
