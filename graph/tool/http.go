package tool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultMaxBodyBytes = 64 << 10

// HTTPTool lets a model fetch a URL.
//
// Input:
//   - url (required): the URL to fetch
//   - method: GET or POST, default GET
//   - body: request body for POST
//   - headers: map of request headers
//
// Output:
//   - status_code: the response status
//   - headers: response headers; repeated headers become lists
//   - body: the response body, truncated to 64 KiB with truncated=true
//
// Non-2xx responses are returned as output, not as errors, so the model can
// react to them. Transport failures are errors.
//
// Example usage:
//
//	tools := tool.NewRegistry(tool.NewHTTPTool())
type HTTPTool struct {
	client       *http.Client
	maxBodyBytes int64
}

// NewHTTPTool returns an HTTPTool with a 30s client timeout.
func NewHTTPTool() *HTTPTool {
	return &HTTPTool{
		client:       &http.Client{Timeout: 30 * time.Second},
		maxBodyBytes: defaultMaxBodyBytes,
	}
}

// Name implements Tool.
func (h *HTTPTool) Name() string { return "http_request" }

// Description implements Describer.
func (h *HTTPTool) Description() string {
	return "Fetch a URL over HTTP and return the status code, headers and body."
}

// Schema implements Describer.
func (h *HTTPTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url":    map[string]interface{}{"type": "string", "description": "Absolute URL to fetch"},
			"method": map[string]interface{}{"type": "string", "description": "GET or POST"},
			"body":   map[string]interface{}{"type": "string", "description": "Request body for POST"},
		},
		"required": []string{"url"},
	}
}

// Call performs the request described by input.
func (h *HTTPTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	urlStr, ok := input["url"].(string)
	if !ok || urlStr == "" {
		return nil, fmt.Errorf("url parameter required (string)")
	}

	method := http.MethodGet
	if m, ok := input["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if method != http.MethodGet && method != http.MethodPost {
		return nil, fmt.Errorf("unsupported HTTP method: %s (supported: GET, POST)", method)
	}

	var body io.Reader
	if bodyStr, ok := input["body"].(string); ok && bodyStr != "" {
		body = bytes.NewBufferString(bodyStr)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if headers, ok := input["headers"].(map[string]interface{}); ok {
		for key, value := range headers {
			if valueStr, ok := value.(string); ok {
				req.Header.Set(key, valueStr)
			}
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	truncated := int64(len(respBody)) > h.maxBodyBytes
	if truncated {
		respBody = respBody[:h.maxBodyBytes]
	}

	respHeaders := make(map[string]interface{}, len(resp.Header))
	for key, values := range resp.Header {
		if len(values) == 1 {
			respHeaders[key] = values[0]
		} else {
			respHeaders[key] = values
		}
	}

	return map[string]interface{}{
		"status_code": resp.StatusCode,
		"headers":     respHeaders,
		"body":        string(respBody),
		"truncated":   truncated,
	}, nil
}
