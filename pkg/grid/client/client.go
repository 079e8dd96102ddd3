package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/diwise/grid-mapper/pkg/grid"
	"github.com/diwise/grid-mapper/pkg/grid/errors"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type GridClient interface {
	RetrieveRow(ctx context.Context, tableID, rowID string, headers map[string][]string) (*grid.Row, error)
	QueryRows(ctx context.Context, tableID string, headers map[string][]string, parameters ...RequestDecoratorFunc) (*grid.QueryRowsResult, error)
	InsertRows(ctx context.Context, tableID string, rows []grid.RowUpsert, headers map[string][]string) (*grid.InsertRowsResult, error)
	UpdateRow(ctx context.Context, tableID, rowID string, row grid.RowUpsert, headers map[string][]string) (*grid.UpdateRowResult, error)
	DeleteRows(ctx context.Context, tableID string, rowIDs []string, headers map[string][]string) (*grid.DeleteRowsResult, error)
	RetrieveMutationStatus(ctx context.Context, requestID string, headers map[string][]string) (*grid.MutationStatusResult, error)
}

type RequestDecoratorFunc func([]string) []string

func Debug(enabled string) func(*gridClient) {
	return func(c *gridClient) {
		c.debug = (enabled == "true")
	}
}

func Token(token string) func(*gridClient) {
	return func(c *gridClient) {
		c.token = token
	}
}

func NewGridClient(serviceURL string, options ...func(*gridClient)) GridClient {
	c := &gridClient{
		serviceURL: serviceURL,
		debug:      false,
	}

	for _, option := range options {
		option(c)
	}

	return c
}

const (
	TraceAttributeTableID   string = "table-id"
	TraceAttributeRowID     string = "row-id"
	TraceAttributeRequestID string = "request-id"
)

var tracer = otel.Tracer("grid-mapper/client")

type gridClient struct {
	serviceURL string
	token      string
	debug      bool
}

func (c gridClient) RetrieveRow(ctx context.Context, tableID, rowID string, headers map[string][]string) (*grid.Row, error) {
	var err error

	ctx, span := tracer.Start(ctx, "retrieve-row",
		trace.WithAttributes(attribute.String(TraceAttributeTableID, tableID)),
		trace.WithAttributes(attribute.String(TraceAttributeRowID, rowID)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	response, responseBody, err := c.callGridService(
		ctx, http.MethodGet, c.rowsEndpoint(tableID)+"/"+url.QueryEscape(rowID), nil, headers,
	)

	if err != nil {
		return nil, err
	}

	if response.StatusCode != http.StatusOK {
		contentType := response.Header.Get("Content-Type")
		if response.StatusCode >= http.StatusBadRequest && response.StatusCode <= http.StatusInternalServerError {
			err = errors.NewErrorFromProblemReport(response.StatusCode, contentType, responseBody)
			return nil, err
		}

		err = fmt.Errorf("unexpected response code %d (%w)", response.StatusCode, errors.ErrInternal)
		return nil, err
	}

	return grid.NewRowFromJSON(responseBody)
}

func (c gridClient) QueryRows(ctx context.Context, tableID string, headers map[string][]string, parameters ...RequestDecoratorFunc) (*grid.QueryRowsResult, error) {
	var err error

	ctx, span := tracer.Start(ctx, "query-rows",
		trace.WithAttributes(attribute.String(TraceAttributeTableID, tableID)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	params := make([]string, 0, 5)
	for _, rdf := range parameters {
		params = rdf(params)
	}

	urlparams := ""
	if len(params) > 0 {
		urlparams = "?" + strings.Join(params, "&")
	}

	response, responseBody, err := c.callGridService(
		ctx, http.MethodGet, c.rowsEndpoint(tableID)+urlparams, nil, headers,
	)

	if err != nil {
		return nil, err
	}

	if response.StatusCode != http.StatusOK {
		contentType := response.Header.Get("Content-Type")
		if response.StatusCode >= http.StatusBadRequest && response.StatusCode <= http.StatusInternalServerError {
			err = errors.NewErrorFromProblemReport(response.StatusCode, contentType, responseBody)
			return nil, err
		}

		err = fmt.Errorf("unexpected response code %d (%w)", response.StatusCode, errors.ErrInternal)
		return nil, err
	}

	result, err := grid.NewQueryRowsResult(responseBody)
	if err != nil {
		if c.debug && len(responseBody) < 1000 {
			err = fmt.Errorf("unmarshaling of %s failed with err %s", string(responseBody), err.Error())
		}

		return nil, err
	}

	return result, nil
}

func (c gridClient) InsertRows(ctx context.Context, tableID string, rows []grid.RowUpsert, headers map[string][]string) (*grid.InsertRowsResult, error) {
	var err error

	ctx, span := tracer.Start(ctx, "insert-rows",
		trace.WithAttributes(attribute.String(TraceAttributeTableID, tableID)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	payload, err := json.Marshal(struct {
		Rows []grid.RowUpsert `json:"rows"`
	}{Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rows: %w", err)
	}

	response, responseBody, err := c.callGridService(
		ctx, http.MethodPost, c.rowsEndpoint(tableID), bytes.NewBuffer(payload), headers,
	)

	if err != nil {
		return nil, err
	}

	if response.StatusCode != http.StatusAccepted {
		contentType := response.Header.Get("Content-Type")
		if response.StatusCode >= http.StatusBadRequest && response.StatusCode <= http.StatusInternalServerError {
			err = errors.NewErrorFromProblemReport(response.StatusCode, contentType, responseBody)
			return nil, err
		}

		err = fmt.Errorf("unexpected response code %d (%w)", response.StatusCode, errors.ErrInternal)
		return nil, err
	}

	return grid.NewInsertRowsResult(responseBody)
}

func (c gridClient) UpdateRow(ctx context.Context, tableID, rowID string, row grid.RowUpsert, headers map[string][]string) (*grid.UpdateRowResult, error) {
	var err error

	ctx, span := tracer.Start(ctx, "update-row",
		trace.WithAttributes(attribute.String(TraceAttributeTableID, tableID)),
		trace.WithAttributes(attribute.String(TraceAttributeRowID, rowID)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	payload, err := json.Marshal(struct {
		Row grid.RowUpsert `json:"row"`
	}{Row: row})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal row: %w", err)
	}

	response, responseBody, err := c.callGridService(
		ctx, http.MethodPatch, c.rowsEndpoint(tableID)+"/"+url.QueryEscape(rowID), bytes.NewBuffer(payload), headers,
	)

	if err != nil {
		return nil, err
	}

	if response.StatusCode != http.StatusAccepted {
		contentType := response.Header.Get("Content-Type")
		if response.StatusCode >= http.StatusBadRequest && response.StatusCode <= http.StatusInternalServerError {
			err = errors.NewErrorFromProblemReport(response.StatusCode, contentType, responseBody)
			return nil, err
		}

		err = fmt.Errorf("unexpected response code %d (%w)", response.StatusCode, errors.ErrInternal)
		return nil, err
	}

	return grid.NewUpdateRowResult(responseBody)
}

func (c gridClient) DeleteRows(ctx context.Context, tableID string, rowIDs []string, headers map[string][]string) (*grid.DeleteRowsResult, error) {
	var err error

	ctx, span := tracer.Start(ctx, "delete-rows",
		trace.WithAttributes(attribute.String(TraceAttributeTableID, tableID)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	payload, err := json.Marshal(struct {
		RowIDs []string `json:"rowIds"`
	}{RowIDs: rowIDs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal row ids: %w", err)
	}

	response, responseBody, err := c.callGridService(
		ctx, http.MethodDelete, c.rowsEndpoint(tableID), bytes.NewBuffer(payload), headers,
	)

	if err != nil {
		return nil, err
	}

	if response.StatusCode != http.StatusAccepted {
		contentType := response.Header.Get("Content-Type")
		if response.StatusCode >= http.StatusBadRequest && response.StatusCode <= http.StatusInternalServerError {
			err = errors.NewErrorFromProblemReport(response.StatusCode, contentType, responseBody)
			return nil, err
		}

		err = fmt.Errorf("unexpected response code %d (%w)", response.StatusCode, errors.ErrInternal)
		return nil, err
	}

	return grid.NewDeleteRowsResult(responseBody)
}

func (c gridClient) RetrieveMutationStatus(ctx context.Context, requestID string, headers map[string][]string) (*grid.MutationStatusResult, error) {
	var err error

	ctx, span := tracer.Start(ctx, "retrieve-mutation-status",
		trace.WithAttributes(attribute.String(TraceAttributeRequestID, requestID)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	response, responseBody, err := c.callGridService(
		ctx, http.MethodGet, c.serviceURL+"/grid/v1/mutations/"+url.QueryEscape(requestID), nil, headers,
	)

	if err != nil {
		return nil, err
	}

	if response.StatusCode != http.StatusOK {
		contentType := response.Header.Get("Content-Type")
		if response.StatusCode >= http.StatusBadRequest && response.StatusCode <= http.StatusInternalServerError {
			err = errors.NewErrorFromProblemReport(response.StatusCode, contentType, responseBody)
			return nil, err
		}

		err = fmt.Errorf("unexpected response code %d (%w)", response.StatusCode, errors.ErrInternal)
		return nil, err
	}

	return grid.NewMutationStatusResult(responseBody)
}

func (c gridClient) rowsEndpoint(tableID string) string {
	return c.serviceURL + "/grid/v1/tables/" + url.QueryEscape(tableID) + "/rows"
}

func (c gridClient) callGridService(ctx context.Context, method, endpoint string, body io.Reader, headers map[string][]string) (*http.Response, []byte, error) {
	httpClient := http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %s (%w)", err.Error(), errors.ErrInternal)
	}

	if c.token != "" {
		req.Header.Add("Authorization", "Bearer "+c.token)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if method != http.MethodGet {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}

	for header, headerValue := range headers {
		for _, val := range headerValue {
			req.Header.Add(header, val)
		}
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to send request: %s (%w)", err.Error(), errors.ErrRequest)
	}

	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %s (%w)", err.Error(), errors.ErrBadResponse)
	}

	if c.debug && resp.StatusCode >= http.StatusBadRequest {
		if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusNotFound {
			reqbytes, _ := httputil.DumpRequest(req, false)
			respbytes, _ := httputil.DumpResponse(resp, false)

			log := logging.GetFromContext(ctx)
			log.Error("request failed", "request", string(reqbytes), "response", string(respbytes))
		}
	}

	return resp, respBody, nil
}
