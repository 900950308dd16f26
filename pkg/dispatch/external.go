package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/waflow/waflow/pkg/models"
	"github.com/waflow/waflow/pkg/template"
)

const (
	defaultExternalTimeout = 30 * time.Second
	maxResponseBytes       = 1 << 20
)

// httpError carries the status code of a non-2xx external response.
type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// externalCaller executes action node REST calls with templated
// configuration and a config-owned retry budget.
type externalCaller struct {
	logger *slog.Logger
}

func newExternalCaller(logger *slog.Logger) *externalCaller {
	return &externalCaller{logger: logger}
}

func (c *externalCaller) call(ctx context.Context, config *models.ActionConfig, variables map[string]any) (map[string]any, error) {
	url, err := template.Render(config.URL, variables)
	if err != nil {
		return nil, &ExternalCallError{Attempts: 0, Err: err}
	}

	body, err := template.Render(config.Body, variables)
	if err != nil {
		return nil, &ExternalCallError{Attempts: 0, Err: err}
	}

	headers, err := template.RenderMap(config.Headers, variables)
	if err != nil {
		return nil, &ExternalCallError{Attempts: 0, Err: err}
	}

	method := strings.ToUpper(config.Method)
	if method == "" {
		method = http.MethodGet
	}

	timeout := defaultExternalTimeout
	if config.TimeoutSeconds > 0 {
		timeout = time.Duration(config.TimeoutSeconds) * time.Second
	}

	attempts := config.Retries.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	client := &http.Client{Timeout: timeout}

	var lastErr error

	lastStatus := 0

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, &ExternalCallError{Attempts: attempt - 1, Err: ctx.Err()}
			case <-time.After(time.Duration(config.Retries.DelayMs) * time.Millisecond):
			}
		}

		result, err := c.perform(ctx, client, method, url, body, headers)
		if err == nil {
			return result, nil
		}

		lastErr = err

		// Client errors are not retried, only server errors and network
		// failures.
		httpErr := &httpError{}
		if errors.As(err, &httpErr) {
			lastStatus = httpErr.StatusCode
			if httpErr.StatusCode < 500 {
				break
			}
		}
	}

	return nil, &ExternalCallError{StatusCode: lastStatus, Attempts: attempts, Err: lastErr}
}

func (c *externalCaller) perform(ctx context.Context, client *http.Client, method, url, body string, headers map[string]string) (map[string]any, error) {
	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	if body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &httpError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
	}

	var decoded any
	if json.Unmarshal(respBody, &decoded) == nil {
		result["body"] = decoded
	} else {
		result["body"] = string(respBody)
	}

	return result, nil
}
