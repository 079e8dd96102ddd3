package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/diwise/grid-mapper/pkg/grid"
	griderrors "github.com/diwise/grid-mapper/pkg/grid/errors"
	testutils "github.com/diwise/service-chassis/pkg/test/http"
	"github.com/diwise/service-chassis/pkg/test/http/expects"
	"github.com/diwise/service-chassis/pkg/test/http/response"

	"github.com/matryer/is"
)

var Expects = testutils.Expects
var Returns = testutils.Returns
var anyInput = expects.AnyInput
var method = expects.RequestMethod
var path = expects.RequestPath
var body = expects.RequestBody

func TestRetrieveRow(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodGet),
			path("/grid/v1/tables/grid-tasks/rows/r1"),
		),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusOK),
			response.Body([]byte(rowResponse)),
		),
	)
	defer s.Close()

	c := NewGridClient(s.URL())

	row, err := c.RetrieveRow(context.Background(), "grid-tasks", "r1", nil)

	is.NoErr(err)
	is.Equal(row.ID, "r1")
	is.Equal(row.Values["c-status"], "open")
}

func TestRetrieveRowNotFound(t *testing.T) {
	is := is.New(t)

	pr := griderrors.NewNotFound("no such row", "traceID")
	b, _ := json.Marshal(pr)

	s := testutils.NewMockServiceThat(
		Expects(is, anyInput()),
		Returns(
			response.ContentType("application/problem+json"),
			response.Code(http.StatusNotFound),
			response.Body(b),
		),
	)
	defer s.Close()

	c := NewGridClient(s.URL())

	_, err := c.RetrieveRow(context.Background(), "grid-tasks", "r1", nil)

	is.True(err != nil)
	is.True(errors.Is(err, griderrors.ErrNotFound))
}

func TestRetrieveRowThrowsErrorOnUnexpectedSuccessCode(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(is, anyInput()),
		Returns(response.Code(http.StatusNoContent)),
	)
	defer s.Close()

	c := NewGridClient(s.URL())

	_, err := c.RetrieveRow(context.Background(), "grid-tasks", "r1", nil)

	is.True(err != nil)
	is.Equal(err.Error(), "unexpected response code 204 (internal error)")
}

func TestRetrieveRowSendsBearerToken(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(is, HeaderEquals("Authorization", "Bearer sometoken")),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusOK),
			response.Body([]byte(rowResponse)),
		),
	)
	defer s.Close()

	c := NewGridClient(s.URL(), Token("sometoken"))

	_, err := c.RetrieveRow(context.Background(), "grid-tasks", "r1", nil)

	is.NoErr(err)
}

func TestQueryRows(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			path("/grid/v1/tables/grid-tasks/rows"),
			QueryParamEquals("query", `c-status:"open"`),
		),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusOK),
			response.Body([]byte(queryResponse)),
		),
	)
	defer s.Close()

	c := NewGridClient(s.URL())

	result, err := c.QueryRows(context.Background(), "grid-tasks", nil, Query("c-status", "open"))

	is.NoErr(err)
	is.Equal(len(result.Items), 2)
	is.Equal(result.Items[1].ID, "r2")
	is.True(result.HasMorePages())
	is.Equal(result.NextPageToken, "2")
}

func TestQueryRowsPassesPagingParameters(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			QueryParamEquals("pageToken", "2"),
			QueryParamEquals("limit", "50"),
		),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusOK),
			response.Body([]byte(lastPageResponse)),
		),
	)
	defer s.Close()

	c := NewGridClient(s.URL())

	result, err := c.QueryRows(context.Background(), "grid-tasks", nil, PageToken("2"), Limit(50))

	is.NoErr(err)
	is.True(!result.HasMorePages())
}

func TestInsertRows(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodPost),
			path("/grid/v1/tables/grid-tasks/rows"),
			body(`{"rows":[{"cells":[{"column":"c-title","value":"fix the northern gate"}]}]}`),
			HeaderIsSet("Idempotency-Key"),
		),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusAccepted),
			response.Body([]byte(`{"requestId":"req-1","addedRowIds":["r9"]}`)),
		),
	)
	defer s.Close()

	c := NewGridClient(s.URL())

	result, err := c.InsertRows(context.Background(), "grid-tasks", upsert("c-title", "fix the northern gate"), nil)

	is.NoErr(err)
	is.Equal(result.RequestID, "req-1")
	is.Equal(result.AddedRowIDs, []string{"r9"})
}

func TestInsertRowsHandlesBadRequestError(t *testing.T) {
	is := is.New(t)

	pr := griderrors.NewBadRequest("malformed cells", "traceID")
	b, _ := json.Marshal(pr)

	s := testutils.NewMockServiceThat(
		Expects(is, anyInput()),
		Returns(
			response.ContentType("application/problem+json"),
			response.Code(http.StatusBadRequest),
			response.Body(b),
		),
	)
	defer s.Close()

	c := NewGridClient(s.URL())

	_, err := c.InsertRows(context.Background(), "grid-tasks", upsert("c-title", "whatever"), nil)

	is.True(err != nil)
	is.True(errors.Is(err, griderrors.ErrBadRequest))
}

func TestUpdateRow(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodPatch),
			path("/grid/v1/tables/grid-tasks/rows/r1"),
			body(`{"row":{"cells":[{"column":"c-status","value":"closed"}]}}`),
			HeaderIsSet("Idempotency-Key"),
		),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusAccepted),
			response.Body([]byte(`{"requestId":"req-2"}`)),
		),
	)
	defer s.Close()

	c := NewGridClient(s.URL())

	result, err := c.UpdateRow(context.Background(), "grid-tasks", "r1", upsert("c-status", "closed")[0], nil)

	is.NoErr(err)
	is.Equal(result.RequestID, "req-2")
	is.Equal(s.RequestCount(), 1)
}

func TestDeleteRows(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodDelete),
			path("/grid/v1/tables/grid-tasks/rows"),
			body(`{"rowIds":["r1","r2"]}`),
		),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusAccepted),
			response.Body([]byte(`{"requestId":"req-3"}`)),
		),
	)
	defer s.Close()

	c := NewGridClient(s.URL())

	result, err := c.DeleteRows(context.Background(), "grid-tasks", []string{"r1", "r2"}, nil)

	is.NoErr(err)
	is.Equal(result.RequestID, "req-3")
}

func TestRetrieveMutationStatus(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodGet),
			path("/grid/v1/mutations/req-1"),
		),
		Returns(
			response.ContentType("application/json"),
			response.Code(http.StatusOK),
			response.Body([]byte(`{"completed":true}`)),
		),
	)
	defer s.Close()

	c := NewGridClient(s.URL())

	status, err := c.RetrieveMutationStatus(context.Background(), "req-1", nil)

	is.NoErr(err)
	is.True(status.Completed)
}

func upsert(column string, value any) []grid.RowUpsert {
	return []grid.RowUpsert{{Cells: []grid.Cell{{Column: column, Value: value}}}}
}

const rowResponse string = `{
	"id": "r1",
	"values": {
		"c-title": "fix the northern gate",
		"c-status": "open"
	}
}`

const queryResponse string = `{
	"items": [
		{"id": "r1", "values": {"c-status": "open"}},
		{"id": "r2", "values": {"c-status": "open"}}
	],
	"nextPageToken": "2"
}`

const lastPageResponse string = `{
	"items": [
		{"id": "r3", "values": {"c-status": "open"}}
	]
}`

func HeaderIsSet(name string) func(*is.I, *http.Request) {
	return func(is *is.I, r *http.Request) {
		is.True(r.Header.Get(name) != "") // header should be set
	}
}

func HeaderEquals(name, value string) func(*is.I, *http.Request) {
	return func(is *is.I, r *http.Request) {
		is.Equal(r.Header.Get(name), value) // header should match
	}
}

func QueryParamEquals(name, value string) func(*is.I, *http.Request) {
	return func(is *is.I, r *http.Request) {
		is.True(r.URL.Query().Has(name))         // query param should exist
		is.Equal(r.URL.Query().Get(name), value) // query param should match
	}
}
