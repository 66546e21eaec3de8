// Package generator synthesizes tool source text from natural-language
// descriptions.
//
// Defines a Generator interface, an OpenAI-compatible chat-completions
// implementation, and a Static generator for tests and offline use.
// Generation is a collaborator of the registry, not part of it: the
// registry only consumes a (name, source) pair and never retries
// generation itself.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.starlark.net/syntax"
)

// Generator produces Starlark source defining exactly one top-level
// function named name.
type Generator interface {
	Generate(ctx context.Context, name, description string) (string, error)
}

// systemPrompt pins the output contract: one Starlark function, correct
// name, docstring, no surrounding prose outside the code fence.
const systemPrompt = `You write tools for an agent tool registry. A tool is a single
Starlark function (Python-like syntax; no imports, no classes, no
f-strings, no while-else). Available built-in modules: json, math, time.

Reply with exactly one fenced code block containing one top-level
function. The function MUST be named exactly as requested, MUST start
with a docstring, and SHOULD give every optional parameter a default
whose type matches its meaning. No code outside the function.`

// Client calls an OpenAI-compatible chat-completions API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient creates a chat-completions generator. baseURL is the API
// root (e.g. "https://api.openai.com/v1"); any server speaking the same
// dialect works.
func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate asks the model for the tool's source, extracts the code
// block from the reply, and syntax-checks it. A reply that does not
// parse gets exactly one repair round with the error fed back; the
// registry's own compile step remains the final gate.
func (c *Client) Generate(ctx context.Context, name, description string) (string, error) {
	user := fmt.Sprintf("Write a tool function named %q that does the following: %s", name, description)
	messages := []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: user},
	}
	reply, err := c.complete(ctx, messages)
	if err != nil {
		return "", err
	}

	source := ExtractCode(reply)
	if source == "" {
		return "", fmt.Errorf("generator: reply for %q contains no code block", name)
	}
	parseErr := parseCheck(name, source)
	if parseErr == nil {
		return source, nil
	}

	messages = append(messages,
		chatMessage{Role: "assistant", Content: reply},
		chatMessage{Role: "user", Content: fmt.Sprintf(
			"That code does not parse: %v\nReply with the corrected function in a single fenced code block.", parseErr)},
	)
	reply, err = c.complete(ctx, messages)
	if err != nil {
		return "", err
	}
	source = ExtractCode(reply)
	if source == "" {
		return "", fmt.Errorf("generator: repair reply for %q contains no code block", name)
	}
	if err := parseCheck(name, source); err != nil {
		return "", fmt.Errorf("generator: source for %q still does not parse after repair: %w", name, err)
	}
	return source, nil
}

// parseOptions is the dialect generated code is checked against; it
// matches what the interpreter compiles with.
var parseOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// parseCheck reports the first syntax error in candidate source.
func parseCheck(name, source string) error {
	_, err := parseOptions.Parse(name+".star", source, 0)
	return err
}

func (c *Client) complete(ctx context.Context, messages []chatMessage) (string, error) {
	reqBody, err := json.Marshal(chatRequest{Model: c.model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("generator: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("generator: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("generator: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return "", fmt.Errorf("generator: read response: %w", err)
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("generator: unmarshal response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("generator: api error: %s: %s", result.Error.Type, result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("generator: empty response (status %d)", resp.StatusCode)
	}
	return result.Choices[0].Message.Content, nil
}

// codeFence matches the first fenced code block, with or without a
// language tag.
var codeFence = regexp.MustCompile("(?s)```[a-zA-Z]*\\n(.*?)```")

// ExtractCode returns the contents of the first fenced code block, or
// the whole reply trimmed when the model skipped the fence.
func ExtractCode(reply string) string {
	if m := codeFence.FindStringSubmatch(reply); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(reply)
}

// Static serves pre-baked sources by tool name. Used in tests and as an
// offline fallback.
type Static map[string]string

// Generate returns the canned source for name.
func (s Static) Generate(_ context.Context, name, _ string) (string, error) {
	src, ok := s[name]
	if !ok {
		return "", fmt.Errorf("generator: no canned source for %q", name)
	}
	return src, nil
}
