package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ResponseEnvelope wraps every API response.
type ResponseEnvelope struct {
	Success bool           `json:"success"`
	Data    interface{}    `json:"data,omitempty"`
	Error   *ErrorResponse `json:"error,omitempty"`
	Meta    ResponseMeta   `json:"meta"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	TraceID   string    `json:"trace_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// ErrorResponse is the error half of the envelope.
type ErrorResponse struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Fields    map[string][]string    `json:"fields,omitempty"`
	Retryable bool                   `json:"retryable,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ValidationError is a malformed request body or parameter.
type ValidationError struct {
	Message string
	Fields  map[string][]string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// baseHandler carries the validator and the response writers shared by
// every endpoint.
type baseHandler struct {
	validator    *validator.Validate
	logger       *zap.Logger
	apiVersion   string
	maxBodyBytes int64
}

func newBaseHandler(apiVersion string, maxBodyBytes int64, logger *zap.Logger) baseHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return baseHandler{
		validator:    validator.New(),
		logger:       logger,
		apiVersion:   apiVersion,
		maxBodyBytes: maxBodyBytes,
	}
}

// decode reads a JSON body into v and validates its struct tags.
func (h *baseHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := h.decodeBody(w, r, v); err != nil {
		return err
	}
	if err := h.validator.Struct(v); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// decodeBody reads a JSON body into v. Domain validation is left to the
// service so its error codes reach the client.
func (h *baseHandler) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return &ValidationError{Message: "Content-Type must be application/json"}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return &ValidationError{Message: fmt.Sprintf("Request body too large (max %d bytes)", h.maxBodyBytes)}
		}
		return &ValidationError{Message: "Failed to read request body"}
	}
	if len(body) == 0 {
		return &ValidationError{Message: "Request body is required"}
	}

	if err := json.Unmarshal(body, v); err != nil {
		return &ValidationError{Message: "Invalid JSON: " + err.Error()}
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Message: "Validation error: " + err.Error()}
	}

	fields := make(map[string][]string)
	for _, fe := range verrs {
		var msg string
		switch fe.Tag() {
		case "required":
			msg = "This field is required"
		case "min":
			msg = fmt.Sprintf("Minimum is %s", fe.Param())
		case "max":
			msg = fmt.Sprintf("Maximum is %s", fe.Param())
		case "gt":
			msg = fmt.Sprintf("Must be greater than %s", fe.Param())
		default:
			msg = fmt.Sprintf("Failed %s validation", fe.Tag())
		}
		fields[fe.Namespace()] = append(fields[fe.Namespace()], msg)
	}
	return &ValidationError{Message: "Validation failed", Fields: fields}
}

// pathUUID parses a {name} path value.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, &ValidationError{
			Message: fmt.Sprintf("invalid %s", name),
			Fields:  map[string][]string{name: {"Must be a valid UUID"}},
		}
	}
	return id, nil
}

func (h *baseHandler) writeSuccess(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	h.writeJSON(w, status, ResponseEnvelope{
		Success: true,
		Data:    data,
		Meta:    h.meta(r.Context()),
	})
}

func (h *baseHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	h.writeJSON(w, status, ResponseEnvelope{
		Success: false,
		Error:   resp,
		Meta:    h.meta(r.Context()),
	})
}

func (h *baseHandler) meta(ctx context.Context) ResponseMeta {
	m := ResponseMeta{
		RequestID: requestIDFrom(ctx),
		Timestamp: time.Now().UTC(),
		Version:   h.apiVersion,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		m.TraceID = sc.TraceID().String()
	}
	return m
}

func (h *baseHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}
