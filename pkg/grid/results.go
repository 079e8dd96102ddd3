package grid

import (
	"encoding/json"
)

type InsertRowsResult struct {
	RequestID   string   `json:"requestId"`
	AddedRowIDs []string `json:"addedRowIds"`
}

func NewInsertRowsResult(body []byte) (*InsertRowsResult, error) {
	r := &InsertRowsResult{}
	if len(body) > 0 {
		err := json.Unmarshal(body, r)
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

type UpdateRowResult struct {
	RequestID string `json:"requestId"`
}

func NewUpdateRowResult(body []byte) (*UpdateRowResult, error) {
	r := &UpdateRowResult{}
	if len(body) > 0 {
		err := json.Unmarshal(body, r)
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

type DeleteRowsResult struct {
	RequestID string `json:"requestId"`
}

func NewDeleteRowsResult(body []byte) (*DeleteRowsResult, error) {
	r := &DeleteRowsResult{}
	if len(body) > 0 {
		err := json.Unmarshal(body, r)
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

type MutationStatusResult struct {
	Completed bool `json:"completed"`
}

func NewMutationStatusResult(body []byte) (*MutationStatusResult, error) {
	r := &MutationStatusResult{}
	if len(body) > 0 {
		err := json.Unmarshal(body, r)
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

type QueryRowsResult struct {
	Items         []Row  `json:"items"`
	NextPageToken string `json:"nextPageToken,omitempty"`
}

func NewQueryRowsResult(body []byte) (*QueryRowsResult, error) {
	r := &QueryRowsResult{}
	err := json.Unmarshal(body, r)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *QueryRowsResult) HasMorePages() bool {
	return r.NextPageToken != ""
}
