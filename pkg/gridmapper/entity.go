package gridmapper

import (
	"context"
	"fmt"
	"reflect"

	"github.com/diwise/grid-mapper/pkg/grid/errors"
	"golang.org/x/sync/errgroup"
)

// Persistable is implemented by any struct that embeds Entity. Instances are
// created by the caller (or by a registered factory) and attached to a
// Mapper, which from then on keeps them in sync with their backing rows.
type Persistable interface {
	base() *Entity
}

// Entity carries the persistence state of a mapped struct: the row it is
// backed by, the decoded field values and a snapshot of those values as they
// were last seen on the remote side. Fields are declared when the type is
// registered and accessed by name through Set, Value and Relation.
type Entity struct {
	self   Persistable
	mapper *Mapper
	desc   *Descriptor

	tableID   string
	rowID     string
	persisted bool
	fetched   bool

	values   map[string]any
	original map[string]any
}

func (b *Entity) base() *Entity { return b }

// RowID returns the id of the backing row, or an empty string for entities
// that have not been inserted yet.
func (b *Entity) RowID() string { return b.rowID }

// TableID returns the id of the table that the backing row lives in.
func (b *Entity) TableID() string { return b.tableID }

// Persisted reports whether a backing row exists (or existed) on the remote
// side.
func (b *Entity) Persisted() bool { return b.persisted }

// Fetched reports whether the field values have been populated from a full
// row. Entities that were created from a row reference start out with only
// their row key and are fetched on first use.
func (b *Entity) Fetched() bool { return b.fetched }

// Values returns the current field values keyed by field name, with the row
// id included under the key "id".
func (b *Entity) Values() map[string]any {
	result := make(map[string]any, len(b.values)+1)
	result["id"] = b.rowID

	for k, v := range b.values {
		result[k] = v
	}

	return result
}

// DirtyValues returns the field values that have been modified since the
// last successful exchange with the remote side.
func (b *Entity) DirtyValues() map[string]any {
	result := map[string]any{}

	for _, name := range b.dirtyFields() {
		result[name] = b.values[name]
	}

	return result
}

func (b *Entity) IsDirty() bool {
	return len(b.dirtyFields()) > 0
}

// ResetDirty takes a new snapshot of the current values, marking the entity
// as clean without talking to the remote side.
func (b *Entity) ResetDirty() {
	b.original = snapshotValues(b.values)
}

func (b *Entity) dirtyFields() []string {
	if b.desc == nil {
		return nil
	}

	names := make([]string, 0, len(b.values))

	for _, f := range b.desc.ordered {
		current, hasCurrent := b.values[f.Name]
		original, hasOriginal := b.original[f.Name]

		if hasCurrent != hasOriginal || (hasCurrent && !valuesEqual(current, original)) {
			names = append(names, f.Name)
		}
	}

	return names
}

// Set assigns a new value to the named field. Reference fields only accept
// instances of the declared related type (wrapped in a []any for multi
// valued fields), so that encoding them on save cannot fail on type grounds.
func (b *Entity) Set(name string, value any) error {
	if b.desc == nil {
		return errors.NewMissingMetadataError("entity is not attached to a mapper")
	}

	f, ok := b.desc.fields[name]
	if !ok {
		return errors.NewMissingMetadataError("no column mapping declared for field " + name)
	}

	if f.IsReference() {
		if err := checkReference(f, value); err != nil {
			return err
		}
	}

	b.values[name] = value
	return nil
}

// Value returns the current value of the named field, or nil if the field
// has no value.
func (b *Entity) Value(name string) (any, error) {
	if b.desc == nil {
		return nil, errors.NewMissingMetadataError("entity is not attached to a mapper")
	}

	if _, ok := b.desc.fields[name]; !ok {
		return nil, errors.NewMissingMetadataError("no column mapping declared for field " + name)
	}

	return b.values[name], nil
}

// Relation returns the value of a reference field. Values that contain no
// unfetched placeholders are returned directly, otherwise a Deferred is
// returned and the missing rows are fetched in the background. Exactly one
// of the value and the Deferred is non nil, unless the field is empty in
// which case both are.
//
// Each call on an unfetched reference starts its own fetch. Overlapping
// resolutions of the same row are allowed and the last one to complete wins.
func (b *Entity) Relation(ctx context.Context, name string) (any, *Deferred, error) {
	if b.desc == nil {
		return nil, nil, errors.NewMissingMetadataError("entity is not attached to a mapper")
	}

	f, ok := b.desc.fields[name]
	if !ok {
		return nil, nil, errors.NewMissingMetadataError("no column mapping declared for field " + name)
	}

	if !f.IsReference() {
		return nil, nil, errors.NewMissingMetadataError("field " + name + " is not declared as a reference")
	}

	value, ok := b.values[name]
	if !ok || value == nil {
		if f.Multiple {
			return []any{}, nil, nil
		}
		return nil, nil, nil
	}

	if f.Multiple {
		return b.resolveAll(ctx, name, value)
	}

	p, ok := value.(Persistable)
	if !ok {
		return nil, nil, errors.NewTypeMismatchError(f.relatedType.String(), fmt.Sprintf("%T", value))
	}

	target := p.base()
	if target.fetched || !target.persisted {
		return value, nil, nil
	}

	d := newDeferred()

	go func() {
		err := b.resolverFor(target).refreshEntity(ctx, target)
		if err != nil {
			d.complete(nil, err)
			return
		}

		d.complete(target.self, nil)
	}()

	return nil, d, nil
}

func (b *Entity) resolveAll(ctx context.Context, name string, value any) (any, *Deferred, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, nil, errors.NewTypeMismatchError("[]any", fmt.Sprintf("%T", value))
	}

	pending := make([]*Entity, 0, len(items))

	for _, item := range items {
		p, ok := item.(Persistable)
		if !ok {
			return nil, nil, errors.NewTypeMismatchError("Persistable", fmt.Sprintf("%T", item))
		}

		if target := p.base(); target.persisted && !target.fetched {
			pending = append(pending, target)
		}
	}

	if len(pending) == 0 {
		return value, nil, nil
	}

	d := newDeferred()

	go func() {
		g, gctx := errgroup.WithContext(ctx)

		for _, target := range pending {
			g.Go(func() error {
				return b.resolverFor(target).refreshEntity(gctx, target)
			})
		}

		if err := g.Wait(); err != nil {
			d.complete(nil, err)
			return
		}

		d.complete(b.values[name], nil)
	}()

	return nil, d, nil
}

func (b *Entity) resolverFor(target *Entity) *Mapper {
	if target.mapper != nil {
		return target.mapper
	}

	return b.mapper
}

// Refresh replaces the field values with the current remote state of the
// backing row and marks the entity as clean.
func (b *Entity) Refresh(ctx context.Context) error {
	m, err := b.requireMapper()
	if err != nil {
		return err
	}

	return m.refreshEntity(ctx, b)
}

// Save sends the dirty fields to the remote side: entities without a backing
// row are inserted, all others are updated. On success a new snapshot is
// taken, so failed writes keep the entity dirty and can be retried.
func (b *Entity) Save(ctx context.Context) error {
	m, err := b.requireMapper()
	if err != nil {
		return err
	}

	_, err = m.saveEntity(ctx, b)
	return err
}

// SaveAndConfirm saves the entity and then polls the mutation status until
// the write has been applied or the context is done.
func (b *Entity) SaveAndConfirm(ctx context.Context) error {
	m, err := b.requireMapper()
	if err != nil {
		return err
	}

	requestID, err := m.saveEntity(ctx, b)
	if err != nil || requestID == "" {
		return err
	}

	return m.awaitMutation(ctx, requestID)
}

// Delete removes the backing row. The local instance keeps its values and
// its place in the cache, it just no longer has a row behind it once the
// deletion goes through.
func (b *Entity) Delete(ctx context.Context) error {
	m, err := b.requireMapper()
	if err != nil {
		return err
	}

	_, err = m.deleteEntity(ctx, b)
	return err
}

// DeleteAndConfirm deletes the backing row and then polls the mutation
// status until the deletion has been applied or the context is done.
func (b *Entity) DeleteAndConfirm(ctx context.Context) error {
	m, err := b.requireMapper()
	if err != nil {
		return err
	}

	requestID, err := m.deleteEntity(ctx, b)
	if err != nil {
		return err
	}

	return m.awaitMutation(ctx, requestID)
}

func (b *Entity) requireMapper() (*Mapper, error) {
	if b.mapper == nil {
		return nil, errors.NewMissingMetadataError("entity is not attached to a mapper")
	}

	return b.mapper, nil
}

// adopt replaces this instance's persistence state with the other one's.
// The identity related fields (self, mapper, descriptor) are left alone and
// a non empty row id is never erased.
func (b *Entity) adopt(other *Entity) {
	b.values = snapshotValues(other.values)
	b.original = snapshotValues(other.original)
	b.persisted = b.persisted || other.persisted
	b.fetched = b.fetched || other.fetched

	if b.rowID == "" {
		b.rowID = other.rowID
	}
}

func checkReference(f *FieldDescriptor, value any) error {
	if value == nil {
		return nil
	}

	if f.Multiple {
		items, ok := value.([]any)
		if !ok {
			return errors.NewTypeMismatchError("[]"+f.relatedType.String(), fmt.Sprintf("%T", value))
		}

		for _, item := range items {
			if err := checkReferenceItem(f, item); err != nil {
				return err
			}
		}

		return nil
	}

	return checkReferenceItem(f, value)
}

func checkReferenceItem(f *FieldDescriptor, value any) error {
	if reflect.TypeOf(value) != f.relatedType {
		return errors.NewTypeMismatchError(f.relatedType.String(), fmt.Sprintf("%T", value))
	}

	return nil
}

func snapshotValues(values map[string]any) map[string]any {
	snapshot := make(map[string]any, len(values))

	for k, v := range values {
		if items, ok := v.([]any); ok {
			copied := make([]any, len(items))
			copy(copied, items)
			snapshot[k] = copied
			continue
		}

		snapshot[k] = v
	}

	return snapshot
}

func valuesEqual(a, b any) bool {
	if ap, ok := a.(Persistable); ok {
		bp, ok := b.(Persistable)
		if !ok {
			return false
		}

		// two handles on the same row are the same value, even if one of
		// them is a placeholder
		ab, bb := ap.base(), bp.base()
		if ab.rowID != "" && bb.rowID != "" {
			return ab.tableID == bb.tableID && ab.rowID == bb.rowID
		}

		return ap == bp
	}

	as, aIsSlice := a.([]any)
	bs, bIsSlice := b.([]any)

	if aIsSlice != bIsSlice {
		return false
	}

	if aIsSlice {
		if len(as) != len(bs) {
			return false
		}

		for i := range as {
			if !valuesEqual(as[i], bs[i]) {
				return false
			}
		}

		return true
	}

	return reflect.DeepEqual(a, b)
}
