package model

import "time"

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateToolRequest is the request body for POST /v1/tools. Source, when
// set, is registered as-is; otherwise Description drives the generator.
type CreateToolRequest struct {
	Name        string `json:"name"`
	Source      string `json:"source,omitempty"`
	Description string `json:"description,omitempty"`
	Overwrite   bool   `json:"overwrite,omitempty"`
}

// InvokeToolRequest is the request body for POST /v1/tools/{name}/invoke.
type InvokeToolRequest struct {
	Params map[string]any `json:"params,omitempty"`
}

// InvokeToolResponse carries the tool's return value.
type InvokeToolResponse struct {
	Result any `json:"result"`
}

// ToolSourceResponse is the response body for GET /v1/tools/{name}/source.
type ToolSourceResponse struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

// RunFlowRequest is the request body for POST /v1/flows/{name}/run.
type RunFlowRequest struct {
	Inputs map[string]any `json:"inputs,omitempty"`
}

// RunFlowResponse carries the flow's resolved output.
type RunFlowResponse struct {
	Output any `json:"output"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Tools   int    `json:"tools"`
	Flows   int    `json:"flows"`
	Uptime  int64  `json:"uptime_seconds"`
}
