// internal/api/http/dispatch_handler.go
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"batch-dispatch/internal/domain"
	"batch-dispatch/internal/metrics"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Dispatcher is the slice of the dispatch service the handler needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload map[string]any, serviceNames []string) (*domain.BatchResult, error)
	History(ctx context.Context, requestID string) ([]*domain.ResultRecord, error)
}

// DispatchHandler serves the dispatch and history endpoints.
type DispatchHandler struct {
	service  Dispatcher
	logger   *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer
}

// NewDispatchHandler creates a new DispatchHandler and initializes the
// validator.
func NewDispatchHandler(service Dispatcher, logger *slog.Logger) *DispatchHandler {
	return &DispatchHandler{
		service:  service,
		logger:   logger.With("component", "dispatch-handler"),
		validate: validator.New(),
		tracer:   otel.Tracer("batch-dispatch-api"),
	}
}

// A helper struct to capture the status code
type instrumentedResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *instrumentedResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// RegisterRoutes registers dispatch-related routes to the http.ServeMux.
func (h *DispatchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/dispatch/", h.instrument("/dispatch/{address}", http.HandlerFunc(h.handleDispatch)))
	mux.Handle("/requests/", h.instrument("/requests/{id}", http.HandlerFunc(h.handleHistory)))
}

func (h *DispatchHandler) instrument(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "HTTP "+r.Method+" "+path, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		))
		defer span.End()

		r = r.WithContext(ctx)

		iw := &instrumentedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(iw, r)

		metrics.HttpRequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(iw.statusCode)).Inc()

		span.SetAttributes(attribute.Int("http.status_code", iw.statusCode))
		if iw.statusCode >= 500 {
			span.SetStatus(codes.Error, "Server Error")
		}
	})
}

// handleDispatch serves POST /dispatch/{address}.
func (h *DispatchHandler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.Dispatch")
	defer span.End()

	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}

	address := strings.Trim(strings.TrimPrefix(r.URL.Path, "/dispatch/"), "/")
	if address == "" {
		h.writeError(w, http.StatusBadRequest, "address is required", nil)
		return
	}
	span.SetAttributes(attribute.String("dispatch.address", address))

	var req DispatchRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			span.SetStatus(codes.Error, "Failed to decode request body")
			span.RecordError(err)
			h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), nil)
			return
		}
	}

	if err := h.validate.Struct(req); err != nil {
		span.SetStatus(codes.Error, "Validation failed")
		span.RecordError(err)
		var issues []string
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				issues = append(issues, "field '"+fe.Field()+"' failed on the '"+fe.Tag()+"' tag")
			}
		}
		h.writeError(w, http.StatusBadRequest, "validation failed", issues)
		return
	}

	payload, err := h.buildPayload(address, req.Data)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	result, err := h.service.Dispatch(ctx, payload, req.Services)
	if err != nil {
		h.writeDomainError(w, span, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// handleHistory serves GET /requests/{id}.
func (h *DispatchHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.History")
	defer span.End()

	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}

	requestID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/requests/"), "/")
	if requestID == "" {
		h.writeError(w, http.StatusBadRequest, "request id is required", nil)
		return
	}
	span.SetAttributes(attribute.String("request.id", requestID))

	records, err := h.service.History(ctx, requestID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("error listing request history", "request_id", requestID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error", nil)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"request_id": requestID, "records": records})
}

// buildPayload classifies the address as an IP or a domain name and merges
// it into the shared payload without overriding caller-provided fields.
func (h *DispatchHandler) buildPayload(address string, data map[string]any) (map[string]any, error) {
	payload := make(map[string]any, len(data)+2)
	for k, v := range data {
		payload[k] = v
	}

	if _, err := netip.ParseAddr(address); err == nil {
		if _, exists := payload["ip"]; !exists {
			payload["ip"] = address
		}
	} else {
		if verr := h.validate.Var(address, "fqdn"); verr != nil {
			return nil, errors.New("address must be an IP address or a fully qualified domain name")
		}
		if _, exists := payload["domain"]; !exists {
			payload["domain"] = address
		}
	}

	if _, exists := payload["address"]; !exists {
		payload["address"] = address
	}
	return payload, nil
}

// writeDomainError maps the domain error taxonomy onto the wire format.
// Internal faults are logged as such; user-caused failures are not.
func (h *DispatchHandler) writeDomainError(w http.ResponseWriter, span trace.Span, err error) {
	code := domain.StatusCode(err)
	span.RecordError(err)

	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		h.writeError(w, code, ve.Message, ve.Issues)
		return
	}
	var be *domain.BatchError
	if errors.As(err, &be) {
		h.logger.Warn("batch failed", "request_id", be.RequestID, "error", be.Message)
		h.writeError(w, code, be.Message, nil)
		return
	}

	// Everything else is a deployment/configuration bug.
	h.logger.Error("internal fault while dispatching", "error", err)
	span.SetStatus(codes.Error, "internal fault")
	h.writeError(w, http.StatusInternalServerError, "internal server error", nil)
}

func (h *DispatchHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *DispatchHandler) writeError(w http.ResponseWriter, status int, message string, issues []string) {
	h.writeJSON(w, status, errorResponse{Error: errorBody{
		Code:    status,
		Message: message,
		Issues:  issues,
	}})
}
