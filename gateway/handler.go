package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/c360/fedgateway/errors"
	"github.com/c360/fedgateway/executor"
	"github.com/c360/fedgateway/metric"
	"github.com/c360/fedgateway/planner"
	"github.com/c360/fedgateway/schema"
)

// maxBodyBytes caps the size of a client request body.
const maxBodyBytes = 1 << 20

// graphqlRequest is the standard GraphQL-over-HTTP request body.
type graphqlRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL-over-HTTP response body.
type graphqlResponse struct {
	Data   map[string]any    `json:"data"`
	Errors []*gqlerror.Error `json:"errors,omitempty"`
}

// Handler serves the /graphql endpoint. Each request flows through the
// current schema snapshot, the query planner, and the executor.
type Handler struct {
	registry       *schema.Registry
	planner        *planner.Planner
	executor       *executor.Executor
	logger         *slog.Logger
	metrics        *metric.Metrics
	requestTimeout time.Duration
}

// NewHandler creates the /graphql handler.
func NewHandler(registry *schema.Registry, pl *planner.Planner, ex *executor.Executor,
	requestTimeout time.Duration, logger *slog.Logger, metrics *metric.Metrics) (*Handler, error) {
	if registry == nil || pl == nil || ex == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Handler", "NewHandler",
			"registry, planner, and executor are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &Handler{
		registry:       registry,
		planner:        pl,
		executor:       ex,
		logger:         logger.With("component", "gateway"),
		metrics:        metrics,
		requestTimeout: requestTimeout,
	}, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()
	w.Header().Set("X-Request-Id", requestID)

	req, err := h.decodeRequest(r)
	if err != nil {
		h.writeErrors(w, http.StatusBadRequest, toGQLError(err))
		h.recordRequest("error", start)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	resp, status := h.execute(ctx, req, requestID)
	h.writeJSON(w, status, resp)

	reqStatus := "success"
	switch {
	case resp.Data == nil && len(resp.Errors) > 0:
		reqStatus = "error"
	case len(resp.Errors) > 0:
		reqStatus = "partial"
	}
	h.recordRequest(reqStatus, start)
}

// execute runs the plan/fetch/merge pipeline and maps failures to the
// GraphQL response shape.
func (h *Handler) execute(ctx context.Context, req *graphqlRequest, requestID string) (*graphqlResponse, int) {
	composed, err := h.registry.Current()
	if err != nil {
		return &graphqlResponse{Errors: []*gqlerror.Error{toGQLError(err)}}, http.StatusServiceUnavailable
	}

	plan, err := h.planner.Plan(composed, req.Query, req.OperationName, req.Variables)
	if err != nil {
		h.logger.Debug("planning failed",
			"request_id", requestID,
			"operation", req.OperationName,
			"error", err)
		status := http.StatusOK
		if errors.IsInvalid(err) {
			status = http.StatusBadRequest
		}
		return &graphqlResponse{Errors: []*gqlerror.Error{toGQLError(err)}}, status
	}

	result := h.executor.Execute(ctx, composed, plan, req.Variables)

	resp := &graphqlResponse{Data: result.Data}
	for _, e := range result.Errors {
		resp.Errors = append(resp.Errors, &gqlerror.Error{
			Message:    e.Message,
			Path:       toAstPath(e.Path),
			Extensions: e.Extensions,
		})
	}

	h.logger.Debug("request completed",
		"request_id", requestID,
		"operation", req.OperationName,
		"generation", plan.Generation,
		"fetches", len(plan.Nodes),
		"errors", len(resp.Errors))
	return resp, http.StatusOK
}

// decodeRequest accepts POST bodies and GET query parameters per the
// GraphQL-over-HTTP convention.
func (h *Handler) decodeRequest(r *http.Request) (*graphqlRequest, error) {
	switch r.Method {
	case http.MethodPost:
		req := &graphqlRequest{}
		body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
		if err := json.NewDecoder(body).Decode(req); err != nil {
			return nil, errors.WrapInvalid(err, "Handler", "decodeRequest", "decode request body")
		}
		if req.Query == "" {
			return nil, errors.WrapInvalid(errors.ErrInvalidQuery, "Handler", "decodeRequest", "empty query")
		}
		return req, nil

	case http.MethodGet:
		q := r.URL.Query()
		req := &graphqlRequest{
			Query:         q.Get("query"),
			OperationName: q.Get("operationName"),
		}
		if req.Query == "" {
			return nil, errors.WrapInvalid(errors.ErrInvalidQuery, "Handler", "decodeRequest", "empty query")
		}
		if raw := q.Get("variables"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &req.Variables); err != nil {
				return nil, errors.WrapInvalid(err, "Handler", "decodeRequest", "decode variables parameter")
			}
		}
		return req, nil

	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidQuery, "Handler", "decodeRequest",
			"method not allowed")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, resp *graphqlResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeErrors(w http.ResponseWriter, status int, errs ...*gqlerror.Error) {
	h.writeJSON(w, status, &graphqlResponse{Errors: errs})
}

func (h *Handler) recordRequest(status string, start time.Time) {
	if h.metrics != nil {
		h.metrics.RecordRequest(status, time.Since(start))
	}
}

// toAstPath converts an executor error path into the gqlerror path
// representation.
func toAstPath(path []any) ast.Path {
	if len(path) == 0 {
		return nil
	}
	out := make(ast.Path, 0, len(path))
	for _, p := range path {
		switch v := p.(type) {
		case string:
			out = append(out, ast.PathName(v))
		case int:
			out = append(out, ast.PathIndex(v))
		case float64:
			out = append(out, ast.PathIndex(int(v)))
		}
	}
	return out
}
