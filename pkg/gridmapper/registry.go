package gridmapper

import (
	"reflect"
	"strings"
	"sync"

	"github.com/diwise/grid-mapper/pkg/grid/errors"
	"github.com/jinzhu/inflection"
)

// PersistableFactory creates a new, empty instance of a mapped type.
type PersistableFactory func() Persistable

// FieldDescriptor maps a named field to the column it is stored in.
type FieldDescriptor struct {
	Name     string
	ColumnID string
	Multiple bool

	related     PersistableFactory
	relatedType reflect.Type
}

func (f *FieldDescriptor) IsReference() bool {
	return f.related != nil
}

// Descriptor holds the table mapping for a single registered type.
type Descriptor struct {
	TableID string

	typ     reflect.Type
	newFn   PersistableFactory
	fields  map[string]*FieldDescriptor
	columns map[string]*FieldDescriptor
	ordered []*FieldDescriptor

	err error
}

func (d *Descriptor) addField(f *FieldDescriptor) {
	if d.err != nil {
		return
	}

	if _, exists := d.fields[f.Name]; exists {
		d.err = errors.NewAlreadyExistsError("field " + f.Name + " is declared more than once")
		return
	}

	if taken, exists := d.columns[f.ColumnID]; exists {
		d.err = errors.NewAlreadyExistsError("column " + f.ColumnID + " is already mapped to field " + taken.Name)
		return
	}

	d.fields[f.Name] = f
	d.columns[f.ColumnID] = f
	d.ordered = append(d.ordered, f)
}

type DescriptorDecoratorFunc func(*Descriptor)

// Table overrides the table id that instances of the type are stored in.
// Types that are registered without it default to the pluralized, lower
// cased type name.
func Table(tableID string) DescriptorDecoratorFunc {
	return func(d *Descriptor) {
		d.TableID = tableID
	}
}

// Column declares a field that holds a single value.
func Column(name, columnID string) DescriptorDecoratorFunc {
	return func(d *Descriptor) {
		d.addField(&FieldDescriptor{Name: name, ColumnID: columnID})
	}
}

// MultiColumn declares a field that holds a list of values.
func MultiColumn(name, columnID string) DescriptorDecoratorFunc {
	return func(d *Descriptor) {
		d.addField(&FieldDescriptor{Name: name, ColumnID: columnID, Multiple: true})
	}
}

// Reference declares a field that holds a reference to a row of the related
// type.
func Reference(name, columnID string, related PersistableFactory) DescriptorDecoratorFunc {
	return func(d *Descriptor) {
		d.addField(&FieldDescriptor{
			Name: name, ColumnID: columnID,
			related: related, relatedType: reflect.TypeOf(related()),
		})
	}
}

// MultiReference declares a field that holds a list of references to rows of
// the related type.
func MultiReference(name, columnID string, related PersistableFactory) DescriptorDecoratorFunc {
	return func(d *Descriptor) {
		d.addField(&FieldDescriptor{
			Name: name, ColumnID: columnID, Multiple: true,
			related: related, relatedType: reflect.TypeOf(related()),
		})
	}
}

// Registry holds the table mappings for all types that a Mapper knows how to
// materialize.
type Registry struct {
	mu     sync.Mutex
	types  map[reflect.Type]*Descriptor
	tables map[string]*Descriptor
}

func NewRegistry() *Registry {
	return &Registry{
		types:  map[reflect.Type]*Descriptor{},
		tables: map[string]*Descriptor{},
	}
}

// Register declares the table mapping for the type that the factory creates.
// Conflicting declarations are rejected instead of silently merged.
func (r *Registry) Register(newFn PersistableFactory, decorators ...DescriptorDecoratorFunc) error {
	typ := reflect.TypeOf(newFn())

	d := &Descriptor{
		typ:     typ,
		newFn:   newFn,
		fields:  map[string]*FieldDescriptor{},
		columns: map[string]*FieldDescriptor{},
	}

	for _, decorate := range decorators {
		decorate(d)
	}

	if d.err != nil {
		return d.err
	}

	if d.TableID == "" {
		d.TableID = inflection.Plural(strings.ToLower(typ.Elem().Name()))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[typ]; exists {
		return errors.NewAlreadyExistsError("type " + typ.String() + " is already registered")
	}

	if taken, exists := r.tables[d.TableID]; exists {
		return errors.NewAlreadyExistsError("table " + d.TableID + " is already mapped to type " + taken.typ.String())
	}

	r.types[typ] = d
	r.tables[d.TableID] = d

	return nil
}

// Describe returns the table mapping for the given instance.
func (r *Registry) Describe(p Persistable) (*Descriptor, error) {
	return r.describeType(reflect.TypeOf(p))
}

func (r *Registry) describeType(typ reflect.Type) (*Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.types[typ]
	if !ok {
		return nil, errors.NewMissingMetadataError("no table mapping registered for type " + typ.String())
	}

	return d, nil
}
