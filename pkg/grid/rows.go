package grid

import (
	"encoding/json"
	"fmt"
)

// Row is the wire representation of a single row in a remote table.
// Values are keyed by column id and arrive untyped.
type Row struct {
	ID     string         `json:"id"`
	Values map[string]any `json:"values"`
}

func NewRowFromJSON(body []byte) (*Row, error) {
	r := &Row{}
	err := json.Unmarshal(body, r)

	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal row: %w", err)
	}

	if r.ID == "" {
		return nil, fmt.Errorf("failed to parse row")
	}

	if r.Values == nil {
		r.Values = map[string]any{}
	}

	return r, nil
}

// Cell is one column value in the write direction.
type Cell struct {
	Column string `json:"column"`
	Value  any    `json:"value"`
}

// RowUpsert carries the cells of a row to be inserted or updated.
type RowUpsert struct {
	Cells []Cell `json:"cells"`
}
