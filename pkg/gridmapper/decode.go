package gridmapper

import (
	"github.com/diwise/grid-mapper/pkg/grid"
	"github.com/diwise/grid-mapper/pkg/grid/errors"
)

// materializeRow turns a fetched row into an attached, clean entity and
// registers it. If the row is already registered the new state is merged
// into the known instance, which is the one that is returned.
func materializeRow(m *Mapper, d *Descriptor, row *grid.Row) (*Entity, error) {
	b := m.attach(d.newFn(), d)
	b.rowID = row.ID
	b.persisted = true
	b.fetched = true

	for _, f := range d.ordered {
		wire, ok := row.Values[f.ColumnID]
		if !ok {
			continue
		}

		value, ok, err := m.decodeValue(f, wire, f.Multiple)
		if err != nil {
			return nil, err
		}

		if ok {
			b.values[f.Name] = value
		}
	}

	b.ResetDirty()

	return m.cache.registerOrMerge(b), nil
}

// decodeValue maps a wire value onto the value a field holds locally. The
// second return value reports whether the field should be populated at all:
// an empty cell in a single valued reference column decodes to nothing
// rather than to an empty placeholder.
func (m *Mapper) decodeValue(f *FieldDescriptor, wire any, multiple bool) (any, bool, error) {
	if items, isSlice := wire.([]any); isSlice {
		result := make([]any, 0, len(items))

		for _, item := range items {
			value, ok, err := m.decodeValue(f, item, false)
			if err != nil {
				return nil, false, err
			}

			if ok {
				result = append(result, value)
			}
		}

		return result, true, nil
	}

	if wire == nil {
		if multiple {
			return []any{}, true, nil
		}
		return nil, true, nil
	}

	if s, isString := wire.(string); isString {
		s = grid.UnescapeText(s)

		if s == "" {
			if multiple {
				return []any{}, true, nil
			}
			if f.IsReference() {
				return nil, false, nil
			}
			return "", true, nil
		}

		return wrapIfMultiple(s, multiple), true, nil
	}

	if obj, isObject := wire.(map[string]any); isObject {
		if ref, isRef := grid.ParseReference(obj); isRef {
			value, err := m.decodeReference(f, ref)
			if err != nil {
				return nil, false, err
			}

			return wrapIfMultiple(value, multiple), true, nil
		}

		if scalar, isRich := grid.ScalarFromRich(obj); isRich {
			return wrapIfMultiple(scalar, multiple), true, nil
		}
	}

	return wrapIfMultiple(wire, multiple), true, nil
}

// decodeReference turns a row reference into the instance that represents
// the referenced row. A known row is reused as is, an unknown one gets a
// placeholder that carries the row key and is fetched on first use.
func (m *Mapper) decodeReference(f *FieldDescriptor, ref *grid.Reference) (Persistable, error) {
	if f.related == nil {
		return nil, errors.NewMissingMetadataError("field " + f.Name + " holds a row reference but no related type is declared")
	}

	d, err := m.registry.describeType(f.relatedType)
	if err != nil {
		return nil, err
	}

	b := m.attach(f.related(), d)
	b.tableID = ref.TableID
	b.rowID = ref.RowID
	b.persisted = true
	b.fetched = false

	return m.cache.lookupOrRegister(b).self, nil
}

func wrapIfMultiple(value any, multiple bool) any {
	if multiple {
		return []any{value}
	}

	return value
}

// dirtyCells encodes the dirty fields into cells, in declaration order.
func (b *Entity) dirtyCells() ([]grid.Cell, error) {
	names := b.dirtyFields()
	cells := make([]grid.Cell, 0, len(names))

	for _, name := range names {
		value, err := encodeValue(b.values[name])
		if err != nil {
			return nil, err
		}

		cells = append(cells, grid.Cell{Column: b.desc.fields[name].ColumnID, Value: value})
	}

	return cells, nil
}

// encodeValue maps a local field value onto its wire form. References are
// written as the row id of their target, which must have been persisted
// first.
func encodeValue(value any) (any, error) {
	if p, ok := value.(Persistable); ok {
		target := p.base()
		if target.rowID == "" {
			return nil, errors.NewUnresolvedReferenceError("referenced entity has not been persisted yet")
		}

		return target.rowID, nil
	}

	if items, ok := value.([]any); ok {
		result := make([]any, 0, len(items))

		for _, item := range items {
			encoded, err := encodeValue(item)
			if err != nil {
				return nil, err
			}

			result = append(result, encoded)
		}

		return result, nil
	}

	return value, nil
}
