package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noetl/core/internal/domain/noetl"
)

// HTTPExecutor implements tool.kind "http". spec carries {method, url,
// headers?, params?, body?, timeout_seconds?}; params become URL query
// parameters. spec values are used as received: this executor renders no
// templates, and it does not read call.Call.
type HTTPExecutor struct {
	Client *http.Client
}

func NewHTTPExecutor() *HTTPExecutor {
	return &HTTPExecutor{
		Client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		},
	}
}

func (e *HTTPExecutor) Execute(ctx context.Context, spec noetl.Value, call CallContext) (Result, error) {
	method := strings.ToUpper(strings.TrimSpace(spec.Get("method").String()))
	if method == "" {
		method = http.MethodGet
	}
	url := strings.TrimSpace(spec.Get("url").String())
	if url == "" {
		return Result{}, fmt.Errorf("http executor: spec.url is required")
	}

	var bodyReader io.Reader
	if body := spec.Get("body"); !body.IsNull() {
		b, err := json.Marshal(body.Native())
		if err != nil {
			return Result{}, fmt.Errorf("http executor: encode body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return Result{}, fmt.Errorf("http executor: build request: %w", err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if params := spec.Get("params"); params.Kind() == noetl.KindMap {
		q := req.URL.Query()
		for _, k := range noetl.SortedKeys(params) {
			q.Set(k, params.Get(k).String())
		}
		req.URL.RawQuery = q.Encode()
	}
	headers := spec.Get("headers")
	for _, k := range noetl.SortedKeys(headers) {
		req.Header.Set(k, headers.Get(k).String())
	}

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	if timeout := spec.Get("timeout_seconds"); !timeout.IsNull() && timeout.Float() > 0 {
		c := *client
		c.Timeout = time.Duration(timeout.Float() * float64(time.Second))
		client = &c
	}

	resp, err := client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("http executor: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("http executor: read response: %w", err)
	}

	var decoded noetl.Value
	if len(data) > 0 && json.Valid(data) {
		var native interface{}
		if err := json.Unmarshal(data, &native); err == nil {
			decoded = noetl.FromNative(native)
		}
	}
	if decoded.IsNull() {
		decoded = noetl.String(string(data))
	}

	result := noetl.Map(map[string]noetl.Value{
		"status_code": noetl.Int(int64(resp.StatusCode)),
		"body":        decoded,
	})

	if resp.StatusCode >= 400 {
		return Result{Data: result}, fmt.Errorf("http executor: non-2xx status %d", resp.StatusCode)
	}
	return Result{Data: result}, nil
}
