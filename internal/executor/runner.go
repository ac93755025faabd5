package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/muaviaUsmani/metronome/internal/schedule"
)

// RunRequest is what the external agent runtime receives for one execution
type RunRequest struct {
	ScheduleID  string          `json:"schedule_id"`
	OwnerID     string          `json:"owner_id"`
	AgentRef    string          `json:"agent_ref,omitempty"`
	Instruction string          `json:"instruction"`
	Target      schedule.Target `json:"target"`
}

// RunResult is the agent runtime's response to a run
type RunResult struct {
	Output json.RawMessage `json:"output,omitempty"`
}

// Runner executes one instruction against the external agent runtime and
// reports success or failure. Runs are at-least-once; implementations
// should tolerate an occasional redelivered occurrence.
type Runner interface {
	Run(ctx context.Context, req *RunRequest) (*RunResult, error)
}

// FuncRunner adapts a plain function to the Runner interface (used by
// tests and embedders)
type FuncRunner func(ctx context.Context, req *RunRequest) (*RunResult, error)

// Run implements Runner
func (f FuncRunner) Run(ctx context.Context, req *RunRequest) (*RunResult, error) {
	return f(ctx, req)
}

// HTTPRunner invokes the agent runtime over HTTP: the run request is
// POSTed as JSON and any 2xx response body is the run output
type HTTPRunner struct {
	endpoint string
	client   *http.Client
}

// NewHTTPRunner creates a runner posting to the given endpoint
func NewHTTPRunner(endpoint string, timeout time.Duration) *HTTPRunner {
	return &HTTPRunner{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Run implements Runner
func (r *HTTPRunner) Run(ctx context.Context, req *RunRequest) (*RunResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build run request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("agent runner request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB cap
	if err != nil {
		return nil, fmt.Errorf("failed to read agent runner response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("agent runner returned %d: %s", resp.StatusCode, truncateBody(respBody))
	}

	var result RunResult
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &result); err != nil {
			// Not a structured response; keep the raw body as output
			result.Output, _ = json.Marshal(string(respBody))
		}
	}
	return &result, nil
}

func truncateBody(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
