package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashita-ai/takumi/internal/audit"
	"github.com/ashita-ai/takumi/internal/flow"
	"github.com/ashita-ai/takumi/internal/generator"
	"github.com/ashita-ai/takumi/internal/model"
	"github.com/ashita-ai/takumi/internal/registry"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	registry            *registry.Registry
	flows               *flow.Engine
	audit               *audit.Log
	generator           generator.Generator
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Generator is optional; nil disables description-driven tool creation.
type HandlersDeps struct {
	Registry            *registry.Registry
	Flows               *flow.Engine
	Audit               *audit.Log
	Generator           generator.Generator
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		registry:            d.Registry,
		flows:               d.Flows,
		audit:               d.Audit,
		generator:           d.Generator,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// writeDomainError maps the error taxonomy onto HTTP statuses:
// unknown name 404, bad input 400, unresolved placeholder 422, tool
// failure 502, anything else 500.
func (h *Handlers) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notFound  *model.NotFoundError
		invalid   *model.ValidationError
		reference *model.ReferenceError
		execution *model.ExecutionError
	)
	switch {
	case errors.As(err, &notFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, notFound.Error())
	case errors.As(err, &invalid):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, invalid.Error())
	case errors.As(err, &reference):
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeBadReference, reference.Error())
	case errors.As(err, &execution):
		writeError(w, r, http.StatusBadGateway, model.ErrCodeToolFailed, execution.Error())
	default:
		h.logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()),
			"error", err,
		)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
	}
}

// HandleCreateTool handles POST /v1/tools. With source present the tool
// is registered as given; with only a description the generator
// synthesizes the source first.
func (h *Handlers) HandleCreateTool(w http.ResponseWriter, r *http.Request) {
	var req model.CreateToolRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	source := req.Source
	if source == "" {
		if req.Description == "" {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "either source or description is required")
			return
		}
		if h.generator == nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "tool generation is not configured; provide source")
			return
		}
		generated, err := h.generator.Generate(r.Context(), req.Name, req.Description)
		if err != nil {
			h.logger.Error("tool generation failed", "tool", req.Name, "error", err)
			writeError(w, r, http.StatusBadGateway, model.ErrCodeToolFailed, "tool generation failed: "+err.Error())
			return
		}
		source = generated
	}

	meta, err := h.registry.Register(req.Name, source, req.Overwrite)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, meta)
}

// HandleListTools handles GET /v1/tools.
func (h *Handlers) HandleListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.registry.List())
}

// HandleDescribeTool handles GET /v1/tools/{name}.
func (h *Handlers) HandleDescribeTool(w http.ResponseWriter, r *http.Request) {
	meta, err := h.registry.Describe(r.PathValue("name"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, meta)
}

// HandleToolSource handles GET /v1/tools/{name}/source.
func (h *Handlers) HandleToolSource(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	source, err := h.registry.Source(name)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.ToolSourceResponse{Name: name, Source: source})
}

// HandleRemoveTool handles DELETE /v1/tools/{name}.
func (h *Handlers) HandleRemoveTool(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Remove(r.PathValue("name")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "removed"})
}

// HandleInvokeTool handles POST /v1/tools/{name}/invoke.
func (h *Handlers) HandleInvokeTool(w http.ResponseWriter, r *http.Request) {
	var req model.InvokeToolRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	result, err := h.registry.Invoke(r.Context(), r.PathValue("name"), req.Params)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.InvokeToolResponse{Result: result})
}

// HandleToolRuns handles GET /v1/tools/{name}/runs.
func (h *Handlers) HandleToolRuns(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := h.registry.Describe(name); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	entries, err := h.audit.Tail(name, limitParam(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, entries)
}

// HandleSaveFlow handles POST /v1/flows.
func (h *Handlers) HandleSaveFlow(w http.ResponseWriter, r *http.Request) {
	var spec model.FlowSpec
	if err := decodeJSON(w, r, &spec, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if err := h.flows.Save(spec); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, spec)
}

// HandleListFlows handles GET /v1/flows.
func (h *Handlers) HandleListFlows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.flows.List())
}

// HandleDescribeFlow handles GET /v1/flows/{name}.
func (h *Handlers) HandleDescribeFlow(w http.ResponseWriter, r *http.Request) {
	spec, err := h.flows.Describe(r.PathValue("name"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, spec)
}

// HandleDeleteFlow handles DELETE /v1/flows/{name}.
func (h *Handlers) HandleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	if err := h.flows.Delete(r.PathValue("name")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}

// HandleRunFlow handles POST /v1/flows/{name}/run.
func (h *Handlers) HandleRunFlow(w http.ResponseWriter, r *http.Request) {
	var req model.RunFlowRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	out, err := h.flows.Run(r.Context(), r.PathValue("name"), req.Inputs)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.RunFlowResponse{Output: out})
}

// HandleFlowRuns handles GET /v1/flows/{name}/runs.
func (h *Handlers) HandleFlowRuns(w http.ResponseWriter, r *http.Request) {
	entries, err := h.flows.Runs(r.PathValue("name"), limitParam(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, entries)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Tools:   len(h.registry.List()),
		Flows:   len(h.flows.List()),
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// limitParam parses the optional ?limit= query parameter; 0 means all.
func limitParam(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 0
}
