package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/vaanihq/vaani/flow"
)

const (
	defaultHTTPTimeout = 5 * time.Second
	maxResponseBytes   = 1 << 20
)

// HTTP calls an external business collaborator. Transient failures (5xx,
// transport errors) are retried once with jitter; 4xx responses are
// permanent and emit error immediately with a structured payload the flow
// can inspect. Non-idempotent calls must carry a client idempotency key in
// config headers; the executor passes headers through untouched.
type HTTP struct {
	client *http.Client
}

func NewHTTP() *HTTP {
	return &HTTP{client: &http.Client{Timeout: defaultHTTPTimeout}}
}

func (*HTTP) Name() string { return "http" }

func (e *HTTP) Execute(ctx context.Context, config map[string]any, fc *flow.Context, _ *flow.Input) (*flow.Result, error) {
	url := getString(config, "url")
	if url == "" {
		return &flow.Result{Success: true, Event: flow.EventError, Output: map[string]any{"error": "missing url"}}, nil
	}
	method := strings.ToUpper(getStringDefault(config, "method", "GET"))

	var body []byte
	if raw, ok := config["body"]; ok {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return &flow.Result{Success: true, Event: flow.EventError, Output: map[string]any{"error": "unencodable body"}}, nil
		}
		body = encoded
	}

	status, respBody, err := e.do(ctx, method, url, body, config, fc)
	if err != nil || status >= 500 {
		// One retry with jitter for the transient class.
		select {
		case <-time.After(time.Duration(100+rand.Intn(200)) * time.Millisecond):
		case <-ctx.Done():
			return &flow.Result{Success: true, Event: flow.EventError, Output: map[string]any{"error": ctx.Err().Error()}}, nil
		}
		status, respBody, err = e.do(ctx, method, url, body, config, fc)
	}
	if err != nil {
		slog.Warn("executor: http call failed",
			"flow_id", fc.FlowID,
			"run_id", fc.RunID,
			"method", method,
			"url", url,
			"error", err,
		)
		return &flow.Result{Success: true, Event: flow.EventError, Output: map[string]any{"error": err.Error()}}, nil
	}

	output := map[string]any{"status": status}
	var parsed any
	if len(respBody) > 0 && json.Unmarshal(respBody, &parsed) == nil {
		output["body"] = parsed
	} else if len(respBody) > 0 {
		output["body"] = string(respBody)
	}

	if status >= 400 {
		slog.Warn("executor: http upstream rejected request",
			"flow_id", fc.FlowID,
			"method", method,
			"url", url,
			"status", status,
		)
		return &flow.Result{Success: true, Event: flow.EventError, Output: output}, nil
	}

	if saveTo := getString(config, "save_to"); saveTo != "" {
		flow.SetPath(fc.Variables, saveTo, output["body"])
	}
	return &flow.Result{Success: true, Output: output}, nil
}

func (e *HTTP) do(ctx context.Context, method, url string, body []byte, config map[string]any, fc *flow.Context) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range getMap(config, "headers") {
		if s, ok := v.(string); ok {
			req.Header.Set(k, s)
		}
	}
	// Session-carried bearer token for authenticated collaborators.
	if getBool(config, "auth") {
		if token, ok := fc.Session["auth_token"].(string); ok && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}
