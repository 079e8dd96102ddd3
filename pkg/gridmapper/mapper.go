package gridmapper

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/diwise/grid-mapper/pkg/grid"
	"github.com/diwise/grid-mapper/pkg/grid/client"
	griderrors "github.com/diwise/grid-mapper/pkg/grid/errors"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("grid-mapper/mapper")

// Mapper ties a type registry to a grid service and keeps an identity map of
// every row it has seen, so that all fetches and references that lead to the
// same row share a single instance.
type Mapper struct {
	client   client.GridClient
	registry *Registry
	cache    *Cache

	confirmInterval time.Duration
	notFoundLimit   int
}

func New(c client.GridClient, r *Registry, options ...func(*Mapper)) *Mapper {
	m := &Mapper{
		client:          c,
		registry:        r,
		cache:           NewCache(),
		confirmInterval: 500 * time.Millisecond,
		notFoundLimit:   10,
	}

	for _, option := range options {
		option(m)
	}

	return m
}

// ConfirmInterval sets the poll interval that SaveAndConfirm and
// DeleteAndConfirm use while waiting for a mutation to be applied.
func ConfirmInterval(interval time.Duration) func(*Mapper) {
	return func(m *Mapper) {
		m.confirmInterval = interval
	}
}

// NotFoundLimit sets how many consecutive times a mutation status poll may
// come back not found before the confirmation is abandoned. Freshly accepted
// mutations can take a moment to become visible.
func NotFoundLimit(limit int) func(*Mapper) {
	return func(m *Mapper) {
		m.notFoundLimit = limit
	}
}

// Cache exposes the identity map, mainly so that callers can Clear it or
// inspect its size.
func (m *Mapper) Cache() *Cache {
	return m.cache
}

// Track attaches a caller created instance to this mapper, so that it can be
// saved. The type must have been registered.
func (m *Mapper) Track(p Persistable) error {
	if p.base().mapper != nil {
		return griderrors.NewAlreadyExistsError("entity is already attached to a mapper")
	}

	d, err := m.registry.Describe(p)
	if err != nil {
		return err
	}

	m.attach(p, d)
	return nil
}

func (m *Mapper) attach(p Persistable, d *Descriptor) *Entity {
	b := p.base()
	b.self = p
	b.mapper = m
	b.desc = d
	b.tableID = d.TableID

	if b.values == nil {
		b.values = map[string]any{}
	}
	if b.original == nil {
		b.original = map[string]any{}
	}

	return b
}

// FetchRow retrieves a row by id and materializes it as a T. The returned
// bool reports whether the row exists: a missing row is not an error. A row
// that has been seen before is merged into (and returned as) the already
// known instance.
func FetchRow[T Persistable](ctx context.Context, m *Mapper, rowID string) (T, bool, error) {
	var zero T
	var err error

	ctx, span := tracer.Start(ctx, "fetch-row",
		trace.WithAttributes(attribute.String(client.TraceAttributeRowID, rowID)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	d, err := m.registry.describeType(reflect.TypeOf(zero))
	if err != nil {
		return zero, false, err
	}

	row, err := m.client.RetrieveRow(ctx, d.TableID, rowID, nil)
	if err != nil {
		if errors.Is(err, griderrors.ErrNotFound) {
			err = nil
			return zero, false, nil
		}

		return zero, false, err
	}

	b, err := materializeRow(m, d, row)
	if err != nil {
		return zero, false, err
	}

	result, ok := b.self.(T)
	if !ok {
		err = griderrors.NewTypeMismatchError(reflect.TypeOf(zero).String(), fmt.Sprintf("%T", b.self))
		return zero, false, err
	}

	return result, true, nil
}

// QueryRows retrieves all rows whose column value for the named field equals
// the given value, following pagination links as needed.
func QueryRows[T Persistable](ctx context.Context, m *Mapper, fieldName, value string) ([]T, error) {
	var zero T
	var err error

	ctx, span := tracer.Start(ctx, "query-rows")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	d, err := m.registry.describeType(reflect.TypeOf(zero))
	if err != nil {
		return nil, err
	}

	f, ok := d.fields[fieldName]
	if !ok {
		err = griderrors.NewMissingMetadataError("no column mapping declared for field " + fieldName)
		return nil, err
	}

	return collectRows[T](ctx, m, d, client.Query(f.ColumnID, value))
}

// ListRows retrieves all rows of the table that T is mapped to.
func ListRows[T Persistable](ctx context.Context, m *Mapper) ([]T, error) {
	var zero T
	var err error

	ctx, span := tracer.Start(ctx, "list-rows")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	d, err := m.registry.describeType(reflect.TypeOf(zero))
	if err != nil {
		return nil, err
	}

	return collectRows[T](ctx, m, d)
}

func collectRows[T Persistable](ctx context.Context, m *Mapper, d *Descriptor, parameters ...client.RequestDecoratorFunc) ([]T, error) {
	var zero T

	result := make([]T, 0, 10)

	_, err := client.QueryAllRows(ctx, m.client, d.TableID, func(row grid.Row) error {
		b, err := materializeRow(m, d, &row)
		if err != nil {
			return err
		}

		item, ok := b.self.(T)
		if !ok {
			return griderrors.NewTypeMismatchError(reflect.TypeOf(zero).String(), fmt.Sprintf("%T", b.self))
		}

		result = append(result, item)
		return nil
	}, parameters...)

	if err != nil {
		return nil, err
	}

	return result, nil
}

func (m *Mapper) refreshEntity(ctx context.Context, b *Entity) error {
	var err error

	ctx, span := tracer.Start(ctx, "refresh-entity",
		trace.WithAttributes(attribute.String(client.TraceAttributeTableID, b.tableID)),
		trace.WithAttributes(attribute.String(client.TraceAttributeRowID, b.rowID)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	if b.rowID == "" {
		err = griderrors.NewNotPersistedError("entity has no backing row to fetch")
		return err
	}

	row, err := m.client.RetrieveRow(ctx, b.tableID, b.rowID, nil)
	if err != nil {
		return err
	}

	canonical, err := materializeRow(m, b.desc, row)
	if err != nil {
		return err
	}

	// b may have been orphaned by a cache Clear, in which case the fresh
	// state was registered under a new canonical instance and has to be
	// copied over.
	if canonical != b {
		b.adopt(canonical)
	}

	return nil
}

func (m *Mapper) saveEntity(ctx context.Context, b *Entity) (string, error) {
	var err error

	ctx, span := tracer.Start(ctx, "save-entity",
		trace.WithAttributes(attribute.String(client.TraceAttributeTableID, b.tableID)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	cells, err := b.dirtyCells()
	if err != nil {
		return "", err
	}

	if b.persisted {
		if len(cells) == 0 {
			return "", nil
		}

		var result *grid.UpdateRowResult

		result, err = m.client.UpdateRow(ctx, b.tableID, b.rowID, grid.RowUpsert{Cells: cells}, nil)
		if err != nil {
			return "", err
		}

		b.ResetDirty()
		return result.RequestID, nil
	}

	result, err := m.client.InsertRows(ctx, b.tableID, []grid.RowUpsert{{Cells: cells}}, nil)
	if err != nil {
		return "", err
	}

	if len(result.AddedRowIDs) == 0 {
		err = fmt.Errorf("insert was accepted but no row id was assigned (%w)", griderrors.ErrBadResponse)
		return "", err
	}

	b.rowID = result.AddedRowIDs[0]
	b.persisted = true

	m.cache.lookupOrRegister(b)
	b.ResetDirty()

	return result.RequestID, nil
}

func (m *Mapper) deleteEntity(ctx context.Context, b *Entity) (string, error) {
	var err error

	ctx, span := tracer.Start(ctx, "delete-entity",
		trace.WithAttributes(attribute.String(client.TraceAttributeTableID, b.tableID)),
		trace.WithAttributes(attribute.String(client.TraceAttributeRowID, b.rowID)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	if !b.persisted || b.rowID == "" {
		err = griderrors.NewNotPersistedError("entity has no backing row to delete")
		return "", err
	}

	result, err := m.client.DeleteRows(ctx, b.tableID, []string{b.rowID}, nil)
	if err != nil {
		return "", err
	}

	return result.RequestID, nil
}

// awaitMutation polls the mutation status endpoint until the mutation has
// been applied, tolerating a bounded number of consecutive not found
// responses while the mutation becomes visible.
func (m *Mapper) awaitMutation(ctx context.Context, requestID string) error {
	var err error

	ctx, span := tracer.Start(ctx, "confirm-mutation",
		trace.WithAttributes(attribute.String(client.TraceAttributeRequestID, requestID)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetFromContext(ctx)
	notFoundCount := 0

	operation := func() (bool, error) {
		status, err := m.client.RetrieveMutationStatus(ctx, requestID, nil)
		if err != nil {
			if errors.Is(err, griderrors.ErrNotFound) {
				notFoundCount++
				if notFoundCount >= m.notFoundLimit {
					return false, backoff.Permanent(griderrors.NewNotFoundError("mutation " + requestID + " is not known to the service"))
				}
				return false, err
			}

			return false, backoff.Permanent(err)
		}

		notFoundCount = 0

		if !status.Completed {
			return false, fmt.Errorf("mutation %s has not been applied yet", requestID)
		}

		return true, nil
	}

	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(m.confirmInterval)),
		backoff.WithNotify(func(err error, _ time.Duration) {
			log.Debug("waiting for mutation to be applied", "request-id", requestID, "err", err.Error())
		}),
	)

	return err
}
