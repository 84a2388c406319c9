package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/smilemakc/flowrunner/internal/executor"
	"github.com/smilemakc/flowrunner/internal/executor/config"
	"github.com/smilemakc/flowrunner/pkg/models"
)

const defaultApiTimeout = 30 * time.Second

// ApiExecutor performs an HTTP request per resolvedInputs (§4.6 Api):
// url, method, headers, body. Grounded on the teacher's HTTP executor
// config shape (internal/executor/config.ApiConfig); the request itself
// is plain net/http, the idiomatic choice for outbound calls a Go
// program makes on its own behalf (no pack repo reaches for a
// third-party HTTP client library for this).
type ApiExecutor struct {
	*executor.BaseExecutor
	client *http.Client
}

// NewApiExecutor creates a new Api block handler.
func NewApiExecutor() *ApiExecutor {
	return &ApiExecutor{
		BaseExecutor: executor.NewBaseExecutor("api"),
		client:       &http.Client{Timeout: defaultApiTimeout},
	}
}

// Validate checks the Api block's config.
func (a *ApiExecutor) Validate(cfg map[string]any) error {
	c, err := config.ParseConfig[config.ApiConfig](cfg)
	if err != nil {
		return err
	}
	return c.Validate()
}

// Execute issues the HTTP request. A network-level failure is returned
// as an error that this handler itself marks Retryable when
// models.IsRetryableError classifies it so (§4.6); a
// non-2xx response is not itself an error — it is surfaced in the
// output so the workflow author can branch on status with a Condition.
func (a *ApiExecutor) Execute(ctx context.Context, cfg map[string]any, _ any) (any, error) {
	c, err := config.ParseConfig[config.ApiConfig](cfg)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	reqURL := c.URL
	if len(c.QueryParams) > 0 {
		parsed, err := url.Parse(c.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid url: %w", err)
		}
		q := parsed.Query()
		for k, v := range c.QueryParams {
			q.Set(k, v)
		}
		parsed.RawQuery = q.Encode()
		reqURL = parsed.String()
	}

	var bodyReader io.Reader
	if c.Body != nil {
		data, err := json.Marshal(c.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	timeout := defaultApiTimeout
	if c.TimeoutMs > 0 {
		timeout = time.Duration(c.TimeoutMs) * time.Millisecond
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, c.Method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &models.ExecutionError{
			Kind:      models.KindHandlerFailure,
			Message:   fmt.Sprintf("http request failed: %v", err),
			Retryable: models.IsRetryableError(err),
			Err:       err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	output := map[string]any{
		"statusCode": resp.StatusCode,
		"headers":    flattenHeader(resp.Header),
	}

	var decoded any
	if len(respBody) > 0 && json.Unmarshal(respBody, &decoded) == nil {
		output["body"] = decoded
	} else {
		output["body"] = string(respBody)
	}

	return output, nil
}

func flattenHeader(h http.Header) map[string]string {
	flat := make(map[string]string, len(h))
	for k := range h {
		flat[k] = h.Get(k)
	}
	return flat
}
