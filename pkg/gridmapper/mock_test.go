package gridmapper

import (
	"context"
	"sync"

	"github.com/diwise/grid-mapper/pkg/grid"
	"github.com/diwise/grid-mapper/pkg/grid/client"
)

// gridClientMock implements client.GridClient with overridable behavior per
// operation. Calls to operations without a configured func panic, and
// retrievals are counted per row so that tests can assert on fetch traffic.
type gridClientMock struct {
	RetrieveRowFunc            func(ctx context.Context, tableID, rowID string, headers map[string][]string) (*grid.Row, error)
	QueryRowsFunc              func(ctx context.Context, tableID string, headers map[string][]string, parameters ...client.RequestDecoratorFunc) (*grid.QueryRowsResult, error)
	InsertRowsFunc             func(ctx context.Context, tableID string, rows []grid.RowUpsert, headers map[string][]string) (*grid.InsertRowsResult, error)
	UpdateRowFunc              func(ctx context.Context, tableID, rowID string, row grid.RowUpsert, headers map[string][]string) (*grid.UpdateRowResult, error)
	DeleteRowsFunc             func(ctx context.Context, tableID string, rowIDs []string, headers map[string][]string) (*grid.DeleteRowsResult, error)
	RetrieveMutationStatusFunc func(ctx context.Context, requestID string, headers map[string][]string) (*grid.MutationStatusResult, error)

	mu            sync.Mutex
	retrieveCalls map[string]int
}

func (m *gridClientMock) RetrieveRow(ctx context.Context, tableID, rowID string, headers map[string][]string) (*grid.Row, error) {
	m.mu.Lock()
	if m.retrieveCalls == nil {
		m.retrieveCalls = map[string]int{}
	}
	m.retrieveCalls[tableID+"/"+rowID]++
	m.mu.Unlock()

	if m.RetrieveRowFunc == nil {
		panic("gridClientMock.RetrieveRowFunc: method is nil but GridClient.RetrieveRow was just called")
	}
	return m.RetrieveRowFunc(ctx, tableID, rowID, headers)
}

func (m *gridClientMock) RetrieveCount(tableID, rowID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.retrieveCalls[tableID+"/"+rowID]
}

func (m *gridClientMock) QueryRows(ctx context.Context, tableID string, headers map[string][]string, parameters ...client.RequestDecoratorFunc) (*grid.QueryRowsResult, error) {
	if m.QueryRowsFunc == nil {
		panic("gridClientMock.QueryRowsFunc: method is nil but GridClient.QueryRows was just called")
	}
	return m.QueryRowsFunc(ctx, tableID, headers, parameters...)
}

func (m *gridClientMock) InsertRows(ctx context.Context, tableID string, rows []grid.RowUpsert, headers map[string][]string) (*grid.InsertRowsResult, error) {
	if m.InsertRowsFunc == nil {
		panic("gridClientMock.InsertRowsFunc: method is nil but GridClient.InsertRows was just called")
	}
	return m.InsertRowsFunc(ctx, tableID, rows, headers)
}

func (m *gridClientMock) UpdateRow(ctx context.Context, tableID, rowID string, row grid.RowUpsert, headers map[string][]string) (*grid.UpdateRowResult, error) {
	if m.UpdateRowFunc == nil {
		panic("gridClientMock.UpdateRowFunc: method is nil but GridClient.UpdateRow was just called")
	}
	return m.UpdateRowFunc(ctx, tableID, rowID, row, headers)
}

func (m *gridClientMock) DeleteRows(ctx context.Context, tableID string, rowIDs []string, headers map[string][]string) (*grid.DeleteRowsResult, error) {
	if m.DeleteRowsFunc == nil {
		panic("gridClientMock.DeleteRowsFunc: method is nil but GridClient.DeleteRows was just called")
	}
	return m.DeleteRowsFunc(ctx, tableID, rowIDs, headers)
}

func (m *gridClientMock) RetrieveMutationStatus(ctx context.Context, requestID string, headers map[string][]string) (*grid.MutationStatusResult, error) {
	if m.RetrieveMutationStatusFunc == nil {
		panic("gridClientMock.RetrieveMutationStatusFunc: method is nil but GridClient.RetrieveMutationStatus was just called")
	}
	return m.RetrieveMutationStatusFunc(ctx, requestID, headers)
}
