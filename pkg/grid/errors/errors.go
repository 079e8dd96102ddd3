package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

var ErrAlreadyExists = fmt.Errorf("already exists")
var ErrBadRequest = fmt.Errorf("bad request")
var ErrBadResponse = fmt.Errorf("bad response")
var ErrForbidden = fmt.Errorf("forbidden")
var ErrInternal = fmt.Errorf("internal error")
var ErrMissingMetadata = fmt.Errorf("missing metadata")
var ErrNotFound = fmt.Errorf("not found")
var ErrNotPersisted = fmt.Errorf("not persisted")
var ErrRateLimited = fmt.Errorf("rate limited")
var ErrRequest = fmt.Errorf("request error")
var ErrTypeMismatch = fmt.Errorf("type mismatch")
var ErrUnauthorized = fmt.Errorf("unauthorized")
var ErrUnresolvedReference = fmt.Errorf("unresolved reference")

type myError struct {
	msg    string
	target error
}

func (m myError) Error() string        { return m.msg }
func (m myError) Is(target error) bool { return target == m.target }

func NewAlreadyExistsError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrAlreadyExists,
	}
}

func NewBadRequestError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrBadRequest,
	}
}

func NewForbiddenError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrForbidden,
	}
}

func NewMissingMetadataError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrMissingMetadata,
	}
}

func NewNotFoundError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrNotFound,
	}
}

func NewNotPersistedError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrNotPersisted,
	}
}

func NewRateLimitedError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrRateLimited,
	}
}

func NewTypeMismatchError(expected, actual string) error {
	return &myError{
		msg:    fmt.Sprintf("expected a value of type %s, but got %s", expected, actual),
		target: ErrTypeMismatch,
	}
}

func NewUnauthorizedError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrUnauthorized,
	}
}

func NewUnresolvedReferenceError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrUnresolvedReference,
	}
}

func NewErrorFromProblemReport(code int, contentType string, body []byte) error {
	report := &struct {
		Type   string `json:"type"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}{}

	err := json.Unmarshal(body, report)
	if err != nil {
		return fmt.Errorf("failed to process problem report from grid service: %s", err.Error())
	}

	detail := report.Detail
	if detail == "" {
		detail = report.Title
	}

	switch code {
	case http.StatusNotFound:
		return NewNotFoundError(detail)
	case http.StatusBadRequest:
		return NewBadRequestError(detail)
	case http.StatusUnauthorized:
		return NewUnauthorizedError(detail)
	case http.StatusForbidden:
		return NewForbiddenError(detail)
	case http.StatusConflict:
		return NewAlreadyExistsError(detail)
	case http.StatusTooManyRequests:
		return NewRateLimitedError(detail)
	}

	return &myError{
		msg: fmt.Sprintf("[code: %d] problem report of type \"%s\" with detail \"%s\" received",
			code, report.Type, detail,
		),
		target: ErrInternal,
	}
}

//ProblemDetails stores details about a certain problem according to RFC7807
//See https://tools.ietf.org/html/rfc7807
type ProblemDetails interface {
	ContentType() string
	MarshalJSON() ([]byte, error)
	WriteResponse(w http.ResponseWriter)
}

//ProblemDetailsImpl is an implementation of the ProblemDetails interface
type ProblemDetailsImpl struct {
	typ     string
	title   string
	detail  string
	code    int
	traceID string
}

const (
	//ProblemReportContentType as required by https://tools.ietf.org/html/rfc7807
	ProblemReportContentType string = "application/problem+json"
)

//BadRequest reports that the request includes input data which does not meet the requirements of the operation
type BadRequest struct {
	ProblemDetailsImpl
}

func NewBadRequest(detail, traceID string) *BadRequest {
	return &BadRequest{
		ProblemDetailsImpl: ProblemDetailsImpl{
			typ:     "urn:grid:errors:bad-request",
			title:   "Bad Request",
			detail:  detail,
			code:    http.StatusBadRequest,
			traceID: traceID,
		},
	}
}

//ReportNewBadRequest creates a BadRequest instance and sends it to the supplied http.ResponseWriter
func ReportNewBadRequest(w http.ResponseWriter, detail, traceID string) {
	br := NewBadRequest(detail, traceID)
	br.WriteResponse(w)
}

//InternalError reports that there has been an error during the operation execution
type InternalError struct {
	ProblemDetailsImpl
}

func (ie InternalError) Error() string {
	return ie.detail
}

func NewInternalError(detail, traceID string) *InternalError {
	return &InternalError{
		ProblemDetailsImpl: ProblemDetailsImpl{
			typ:     "urn:grid:errors:internal",
			title:   "Internal Error",
			detail:  detail,
			code:    http.StatusInternalServerError,
			traceID: traceID,
		},
	}
}

//ReportNewInternalError creates an InternalError instance and sends it to the supplied http.ResponseWriter
func ReportNewInternalError(w http.ResponseWriter, detail, traceID string) {
	ie := NewInternalError(detail, traceID)
	ie.WriteResponse(w)
}

//NotFound reports that the request failed with a not found error of some kind
type NotFound struct {
	ProblemDetailsImpl
}

func NewNotFound(detail, traceID string) *NotFound {
	return &NotFound{
		ProblemDetailsImpl: ProblemDetailsImpl{
			typ:     "urn:grid:errors:not-found",
			title:   "Not Found",
			detail:  detail,
			code:    http.StatusNotFound,
			traceID: traceID,
		},
	}
}

//ReportNotFoundError creates a NotFound instance and sends it to the supplied http.ResponseWriter
func ReportNotFoundError(w http.ResponseWriter, detail, traceID string) {
	nf := NewNotFound(detail, traceID)
	nf.WriteResponse(w)
}

type UnauthorizedRequest struct {
	ProblemDetailsImpl
}

func NewUnauthorizedRequest(detail, traceID string) *UnauthorizedRequest {
	return &UnauthorizedRequest{
		ProblemDetailsImpl: ProblemDetailsImpl{
			typ:     "urn:grid:errors:unauthorized",
			title:   "Unauthorized Request",
			detail:  detail,
			code:    http.StatusUnauthorized,
			traceID: traceID,
		},
	}
}

func ReportUnauthorizedRequest(w http.ResponseWriter, detail, traceID string) {
	ur := NewUnauthorizedRequest(detail, traceID)
	ur.WriteResponse(w)
}

//ContentType returns the ContentType to be used when returning this problem
func (p *ProblemDetailsImpl) ContentType() string {
	return ProblemReportContentType
}

//MarshalJSON is called when a ProblemDetailsImpl instance should be serialized to JSON
func (p *ProblemDetailsImpl) MarshalJSON() ([]byte, error) {
	var traceID *string

	if p.traceID != "" {
		traceID = &p.traceID
	}

	j, err := json.Marshal(struct {
		Type    string  `json:"type"`
		Title   string  `json:"title"`
		Detail  string  `json:"detail"`
		TraceID *string `json:"traceID,omitempty"`
	}{
		Type:    p.typ,
		Title:   p.title,
		Detail:  p.detail,
		TraceID: traceID,
	})
	if err != nil {
		return nil, err
	}

	return j, nil
}

//ResponseCode returns the HTTP response code to be used when returning a specific problem
func (p *ProblemDetailsImpl) ResponseCode() int {

	if p.code != 0 {
		return p.code
	}

	return http.StatusBadRequest
}

//WriteResponse writes the contents of this instance to a http.ResponseWriter
func (p *ProblemDetailsImpl) WriteResponse(w http.ResponseWriter) {
	w.Header().Add("Content-Type", p.ContentType())
	w.Header().Add("Content-Language", "en")
	w.WriteHeader(p.ResponseCode())

	pdbytes, err := json.MarshalIndent(p, "", "  ")
	if err == nil {
		w.Write(pdbytes)
	}
}
