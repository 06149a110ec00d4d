package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kestrelflow/kestrel/pkg/expression"
	"github.com/kestrelflow/kestrel/pkg/worker"
)

// HTTPRequestRunnable performs one HTTP request. URL, headers and body
// are rendered against the execution variables before sending. A
// response body that parses as JSON is decoded into the outputs.
type HTTPRequestRunnable struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
	Timeout time.Duration
}

type HTTPRequestFactory struct{}

func NewHTTPRequestFactory() *HTTPRequestFactory {
	return &HTTPRequestFactory{}
}

func (f *HTTPRequestFactory) ID() string {
	return "http-request"
}

func (f *HTTPRequestFactory) Create(config map[string]any) (worker.Runnable, error) {
	url, ok := config["url"].(string)
	if !ok || url == "" {
		return nil, fmt.Errorf("http-request task requires a url")
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	headers := make(map[string]string)
	if raw, ok := config["headers"].(map[string]any); ok {
		for key, value := range raw {
			headers[key], _ = value.(string)
		}
	}

	body, _ := config["body"].(string)

	timeout := 30 * time.Second
	if raw, ok := config["timeout"].(string); ok && raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing timeout %q: %w", raw, err)
		}

		timeout = parsed
	}

	return &HTTPRequestRunnable{
		Method:  strings.ToUpper(method),
		URL:     url,
		Headers: headers,
		Body:    body,
		Timeout: timeout,
	}, nil
}

func (r *HTTPRequestRunnable) Run(ctx context.Context, rc worker.RunContext, logger *slog.Logger) (map[string]any, error) {
	url, err := expression.Render(r.URL, rc.Variables)
	if err != nil {
		return nil, fmt.Errorf("rendering url: %w", err)
	}

	var body io.Reader

	if r.Body != "" {
		rendered, err := expression.Render(r.Body, rc.Variables)
		if err != nil {
			return nil, fmt.Errorf("rendering body: %w", err)
		}

		body = strings.NewReader(rendered)
	}

	request, err := http.NewRequestWithContext(ctx, r.Method, url, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	for key, value := range r.Headers {
		rendered, err := expression.Render(value, rc.Variables)
		if err != nil {
			return nil, fmt.Errorf("rendering header %q: %w", key, err)
		}

		request.Header.Set(key, rendered)
	}

	client := &http.Client{Timeout: r.Timeout}

	logger.InfoContext(ctx, "Sending HTTP request", "method", r.Method, "url", url)

	response, err := client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	outputs := map[string]any{
		"status_code": response.StatusCode,
		"headers":     flattenHeaders(response.Header),
	}

	var decoded any
	if json.Unmarshal(raw, &decoded) == nil {
		outputs["body"] = decoded
	} else {
		outputs["body"] = string(raw)
	}

	if response.StatusCode >= 400 {
		return outputs, fmt.Errorf("request failed with status %d", response.StatusCode)
	}

	return outputs, nil
}

func flattenHeaders(header http.Header) map[string]string {
	flat := make(map[string]string, len(header))
	for key := range header {
		flat[key] = header.Get(key)
	}

	return flat
}
