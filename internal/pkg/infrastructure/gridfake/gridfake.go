package gridfake

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/diwise/grid-mapper/pkg/grid"
	"github.com/diwise/grid-mapper/pkg/grid/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Server is an in-memory grid service for tests. Mutations are applied
// synchronously but acknowledged with a request id, and the mutation status
// endpoint can be configured to take a few polls before it reports the
// mutation as visible or applied.
type Server struct {
	mu sync.Mutex

	httpServer *httptest.Server
	tables     map[string]*table
	mutations  map[string]*mutation
	refColumns map[string]map[string]string

	pageSize      int
	visibleAfter  int
	completeAfter int
	token         string

	nextRowNumber  int
	requestCount   int
	retrieveCounts map[string]int
}

type table struct {
	order []string
	rows  map[string]map[string]any
}

type mutation struct {
	polls int
}

// PageSize caps the number of rows returned per query page.
func PageSize(size int) func(*Server) {
	return func(s *Server) {
		s.pageSize = size
	}
}

// MutationVisibleAfter makes the first polls of a mutation status come back
// not found, the way a freshly accepted mutation can.
func MutationVisibleAfter(polls int) func(*Server) {
	return func(s *Server) {
		s.visibleAfter = polls
	}
}

// MutationCompleteAfter makes a visible mutation report as not yet applied
// for the given number of polls.
func MutationCompleteAfter(polls int) func(*Server) {
	return func(s *Server) {
		s.completeAfter = polls
	}
}

// Token makes the server require the given bearer token on all requests.
func Token(token string) func(*Server) {
	return func(s *Server) {
		s.token = token
	}
}

// ReferenceColumn declares that writes to the given column hold row ids of
// rows in the target table, and is stored (and returned) as structured row
// references.
func ReferenceColumn(tableID, columnID, targetTableID string) func(*Server) {
	return func(s *Server) {
		if s.refColumns[tableID] == nil {
			s.refColumns[tableID] = map[string]string{}
		}
		s.refColumns[tableID][columnID] = targetTableID
	}
}

func New(options ...func(*Server)) *Server {
	s := &Server{
		tables:         map[string]*table{},
		mutations:      map[string]*mutation{},
		refColumns:     map[string]map[string]string{},
		pageSize:       100,
		retrieveCounts: map[string]int{},
	}

	for _, option := range options {
		option(s)
	}

	r := chi.NewRouter()
	r.Use(s.countRequests)
	r.Use(s.authenticate)

	r.Route("/grid/v1", func(r chi.Router) {
		r.Get("/mutations/{requestID}", s.mutationStatus)

		r.Route("/tables/{tableID}/rows", func(r chi.Router) {
			r.Get("/", s.queryRows)
			r.Post("/", s.insertRows)
			r.Delete("/", s.deleteRows)
			r.Get("/{rowID}", s.retrieveRow)
			r.Patch("/{rowID}", s.updateRow)
		})
	})

	s.httpServer = httptest.NewServer(r)
	return s
}

func (s *Server) URL() string {
	return s.httpServer.URL
}

func (s *Server) Close() {
	s.httpServer.Close()
}

// Seed inserts rows without going through the mutation machinery.
func (s *Server) Seed(tableID string, rows ...grid.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.ensureTable(tableID)

	for _, row := range rows {
		if _, exists := t.rows[row.ID]; !exists {
			t.order = append(t.order, row.ID)
		}
		t.rows[row.ID] = row.Values
	}
}

// RequestCount returns the total number of requests the server has seen.
func (s *Server) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.requestCount
}

// RetrieveCount returns how many times the given row has been retrieved by
// id.
func (s *Server) RetrieveCount(tableID, rowID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retrieveCounts[tableID+"/"+rowID]
}

// Rows returns the current contents of a table in insertion order.
func (s *Server) Rows(tableID string) []grid.Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[tableID]
	if !ok {
		return nil
	}

	rows := make([]grid.Row, 0, len(t.order))
	for _, id := range t.order {
		rows = append(rows, grid.Row{ID: id, Values: t.rows[id]})
	}

	return rows
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requestCount++
		s.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			errors.ReportUnauthorizedRequest(w, "missing or invalid access token", "")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) retrieveRow(w http.ResponseWriter, r *http.Request) {
	tableID := chi.URLParam(r, "tableID")
	rowID := chi.URLParam(r, "rowID")

	s.mu.Lock()
	defer s.mu.Unlock()

	s.retrieveCounts[tableID+"/"+rowID]++

	t, ok := s.tables[tableID]
	if !ok {
		errors.ReportNotFoundError(w, "no such table: "+tableID, "")
		return
	}

	values, ok := t.rows[rowID]
	if !ok {
		errors.ReportNotFoundError(w, "no such row: "+rowID, "")
		return
	}

	jsonReply(w, http.StatusOK, grid.Row{ID: rowID, Values: values})
}

func (s *Server) queryRows(w http.ResponseWriter, r *http.Request) {
	tableID := chi.URLParam(r, "tableID")

	columnID, value, hasFilter := "", "", false
	if raw := r.URL.Query().Get("query"); raw != "" {
		var err error
		columnID, value, err = parseQuery(raw)
		if err != nil {
			errors.ReportNewBadRequest(w, err.Error(), "")
			return
		}
		hasFilter = true
	}

	offset := 0
	if token := r.URL.Query().Get("pageToken"); token != "" {
		n, err := strconv.Atoi(token)
		if err != nil {
			errors.ReportNewBadRequest(w, "malformed page token", "")
			return
		}
		offset = n
	}

	limit := s.pageSize
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			errors.ReportNewBadRequest(w, "malformed limit", "")
			return
		}
		if n < limit {
			limit = n
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[tableID]
	if !ok {
		errors.ReportNotFoundError(w, "no such table: "+tableID, "")
		return
	}

	matching := make([]grid.Row, 0, len(t.order))
	for _, id := range t.order {
		if hasFilter && !cellMatches(t.rows[id][columnID], value) {
			continue
		}
		matching = append(matching, grid.Row{ID: id, Values: t.rows[id]})
	}

	if offset > len(matching) {
		offset = len(matching)
	}

	end := offset + limit
	if end > len(matching) {
		end = len(matching)
	}

	next := ""
	if end < len(matching) {
		next = strconv.Itoa(end)
	}

	jsonReply(w, http.StatusOK, struct {
		Items         []grid.Row `json:"items"`
		NextPageToken string     `json:"nextPageToken,omitempty"`
	}{Items: matching[offset:end], NextPageToken: next})
}

func (s *Server) insertRows(w http.ResponseWriter, r *http.Request) {
	tableID := chi.URLParam(r, "tableID")

	var payload struct {
		Rows []grid.RowUpsert `json:"rows"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		errors.ReportNewBadRequest(w, "malformed request body", "")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.ensureTable(tableID)
	addedRowIDs := make([]string, 0, len(payload.Rows))

	for _, row := range payload.Rows {
		rowID := s.assignRowID(t)
		t.order = append(t.order, rowID)
		t.rows[rowID] = map[string]any{}
		s.applyCells(tableID, t.rows[rowID], row.Cells)
		addedRowIDs = append(addedRowIDs, rowID)
	}

	jsonReply(w, http.StatusAccepted, struct {
		RequestID   string   `json:"requestId"`
		AddedRowIDs []string `json:"addedRowIds"`
	}{RequestID: s.newMutation(), AddedRowIDs: addedRowIDs})
}

func (s *Server) updateRow(w http.ResponseWriter, r *http.Request) {
	tableID := chi.URLParam(r, "tableID")
	rowID := chi.URLParam(r, "rowID")

	var payload struct {
		Row grid.RowUpsert `json:"row"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		errors.ReportNewBadRequest(w, "malformed request body", "")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[tableID]
	if !ok {
		errors.ReportNotFoundError(w, "no such table: "+tableID, "")
		return
	}

	values, ok := t.rows[rowID]
	if !ok {
		errors.ReportNotFoundError(w, "no such row: "+rowID, "")
		return
	}

	s.applyCells(tableID, values, payload.Row.Cells)

	jsonReply(w, http.StatusAccepted, struct {
		RequestID string `json:"requestId"`
	}{RequestID: s.newMutation()})
}

func (s *Server) deleteRows(w http.ResponseWriter, r *http.Request) {
	tableID := chi.URLParam(r, "tableID")

	var payload struct {
		RowIDs []string `json:"rowIds"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		errors.ReportNewBadRequest(w, "malformed request body", "")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[tableID]
	if !ok {
		errors.ReportNotFoundError(w, "no such table: "+tableID, "")
		return
	}

	doomed := map[string]struct{}{}
	for _, rowID := range payload.RowIDs {
		doomed[rowID] = struct{}{}
		delete(t.rows, rowID)
	}

	order := make([]string, 0, len(t.order))
	for _, id := range t.order {
		if _, gone := doomed[id]; !gone {
			order = append(order, id)
		}
	}
	t.order = order

	jsonReply(w, http.StatusAccepted, struct {
		RequestID string `json:"requestId"`
	}{RequestID: s.newMutation()})
}

func (s *Server) mutationStatus(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mutations[requestID]
	if !ok {
		errors.ReportNotFoundError(w, "no such mutation: "+requestID, "")
		return
	}

	m.polls++

	if m.polls <= s.visibleAfter {
		errors.ReportNotFoundError(w, "no such mutation: "+requestID, "")
		return
	}

	jsonReply(w, http.StatusOK, struct {
		Completed bool `json:"completed"`
	}{Completed: m.polls > s.visibleAfter+s.completeAfter})
}

func (s *Server) ensureTable(tableID string) *table {
	t, ok := s.tables[tableID]
	if !ok {
		t = &table{rows: map[string]map[string]any{}}
		s.tables[tableID] = t
	}

	return t
}

func (s *Server) assignRowID(t *table) string {
	for {
		s.nextRowNumber++
		id := "r" + strconv.Itoa(s.nextRowNumber)

		if _, taken := t.rows[id]; !taken {
			return id
		}
	}
}

func (s *Server) newMutation() string {
	requestID := uuid.NewString()
	s.mutations[requestID] = &mutation{}
	return requestID
}

func (s *Server) applyCells(tableID string, values map[string]any, cells []grid.Cell) {
	for _, cell := range cells {
		values[cell.Column] = s.materializeValue(tableID, cell.Column, cell.Value)
	}
}

// materializeValue wraps row ids written to a declared reference column into
// the structured references that reads return.
func (s *Server) materializeValue(tableID, columnID string, value any) any {
	target, ok := s.refColumns[tableID][columnID]
	if !ok {
		return value
	}

	if items, ok := value.([]any); ok {
		result := make([]any, 0, len(items))
		for _, item := range items {
			result = append(result, s.materializeValue(tableID, columnID, item))
		}
		return result
	}

	rowID, ok := value.(string)
	if !ok || rowID == "" {
		return value
	}

	return grid.Reference{TableID: target, RowID: rowID}.Wire()
}

func parseQuery(raw string) (string, string, error) {
	idx := strings.Index(raw, ":")
	if idx < 1 {
		return "", "", fmt.Errorf("malformed query: %s", raw)
	}

	value, err := strconv.Unquote(raw[idx+1:])
	if err != nil {
		return "", "", fmt.Errorf("malformed query value: %s", raw)
	}

	return raw[:idx], value, nil
}

func cellMatches(cell any, value string) bool {
	if s, ok := cell.(string); ok {
		return s == value
	}

	return fmt.Sprint(cell) == value
}

func jsonReply(w http.ResponseWriter, code int, body any) {
	b, _ := json.Marshal(body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b)
}
