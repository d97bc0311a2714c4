package bytearray

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/flowable/jobservice"
	"github.com/flowable/jobservice/id"
)

// Ref is a lazy reference to one byte array. A Ref with a nil id has no
// backing row; the first SetValue allocates one. The fetched entity is
// cached on the Ref, so the cache field is owned by the single in-memory
// job holding the Ref and must not be shared across goroutines without
// external synchronization.
type Ref struct {
	id      id.ID
	name    string
	entity  *Entity
	deleted bool
}

// NewRef creates an empty reference with no backing row.
func NewRef() *Ref { return &Ref{} }

// NewRefWithID rehydrates a reference from a stored id column.
func NewRefWithID(byteArrayID id.ID) *Ref {
	return &Ref{id: byteArrayID}
}

// ID returns the backing row id, or the nil ID when unallocated.
func (r *Ref) ID() id.ID { return r.id }

// Name returns the blob name recorded at the last SetValue.
func (r *Ref) Name() string { return r.name }

// Deleted reports whether Delete has been called on this reference.
func (r *Ref) Deleted() bool { return r.deleted }

// Value resolves the referenced bytes. It returns nil without touching
// storage when no id is set. Otherwise the backing row is fetched once from
// the store selected by engineType and cached; a missing row also resolves
// to nil, since the blob was deleted elsewhere.
func (r *Ref) Value(ctx context.Context, res Resolver, engineType string) ([]byte, error) {
	if r.id.IsNil() {
		return nil, nil
	}
	if r.entity == nil {
		store, err := res.ResolveByteArrayStore(engineType)
		if err != nil {
			return nil, err
		}
		e, err := store.GetByteArray(ctx, r.id)
		if err != nil {
			if errors.Is(err, jobservice.ErrByteArrayNotFound) {
				return nil, nil
			}
			return nil, err
		}
		r.entity = e
		r.name = e.Name
	}
	return r.entity.Bytes, nil
}

// SetValue stores the bytes under the given name. The first call allocates
// a backing row (insert-on-write); later calls fetch and overwrite it.
func (r *Ref) SetValue(ctx context.Context, res Resolver, engineType, name string, value []byte) error {
	store, err := res.ResolveByteArrayStore(engineType)
	if err != nil {
		return err
	}

	r.name = name

	if r.id.IsNil() {
		e := &Entity{
			ID:    id.NewByteArrayID(),
			Name:  name,
			Bytes: value,
		}
		if err := store.InsertByteArray(ctx, e); err != nil {
			return err
		}
		r.id = e.ID
		r.entity = e
		r.deleted = false
		return nil
	}

	if r.entity == nil {
		e, err := store.GetByteArray(ctx, r.id)
		if err != nil {
			return fmt.Errorf("bytearray: set value on %s: %w", r.id, err)
		}
		r.entity = e
	}
	r.entity.Name = name
	r.entity.Bytes = value
	return store.UpdateByteArray(ctx, r.entity)
}

// SetString stores the UTF-8 encoding of value.
func (r *Ref) SetString(ctx context.Context, res Resolver, engineType, name, value string) error {
	return r.SetValue(ctx, res, engineType, name, []byte(value))
}

// Delete removes the backing row and clears the reference. It is
// idempotent: an already-deleted or never-allocated reference is a no-op.
func (r *Ref) Delete(ctx context.Context, res Resolver, engineType string) error {
	if r.deleted || r.id.IsNil() {
		return nil
	}
	store, err := res.ResolveByteArrayStore(engineType)
	if err != nil {
		return err
	}
	if err := store.DeleteByteArray(ctx, r.id); err != nil && !errors.Is(err, jobservice.ErrByteArrayNotFound) {
		return err
	}
	r.id = id.Nil
	r.entity = nil
	r.deleted = true
	return nil
}

// Copy returns an independent reference sharing the id, name, and cached
// entity. Both observe the same backing row until either reallocates, but
// mutating the copy never rewrites the original's fields.
func (r *Ref) Copy() *Ref {
	if r == nil {
		return nil
	}
	return &Ref{
		id:      r.id,
		name:    r.name,
		entity:  r.entity,
		deleted: r.deleted,
	}
}

func (r *Ref) String() string {
	return fmt.Sprintf("ByteArrayRef[id=%s, name=%s]", r.id, r.name)
}

type refJSON struct {
	ID   id.ID  `json:"id"`
	Name string `json:"name,omitempty"`
}

// MarshalJSON encodes the reference as its id and name; the cached entity
// is never serialized.
func (r *Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(refJSON{ID: r.id, Name: r.name})
}

// UnmarshalJSON restores a reference from its id and name.
func (r *Ref) UnmarshalJSON(data []byte) error {
	var m refJSON
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	r.id = m.ID
	r.name = m.Name
	r.entity = nil
	r.deleted = false
	return nil
}
