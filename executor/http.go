package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/xraph/cadence/id"
)

// HTTPEndpoint reaches an executor process over JSON/HTTP:
//
//	POST {base}/run       Request body, Idempotency-Key header
//	POST {base}/kill      {"run_id": n}
//	POST {base}/beat      → {"busy": n}
//	POST {base}/idle-beat {"job_id": n}
//
// Any non-2xx answer is an error.
type HTTPEndpoint struct {
	base   string
	client *http.Client
	busy   atomic.Int64
}

// NewHTTPEndpoint creates an endpoint at base. A nil client uses
// http.DefaultClient.
func NewHTTPEndpoint(base string, client *http.Client) *HTTPEndpoint {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPEndpoint{base: strings.TrimRight(base, "/"), client: client}
}

func (h *HTTPEndpoint) Address() string { return h.base }

func (h *HTTPEndpoint) Busy() int { return int(h.busy.Load()) }

func (h *HTTPEndpoint) Dispatch(ctx context.Context, req *Request) error {
	return h.post(ctx, "/run", req, map[string]string{"Idempotency-Key": req.DedupKey()}, nil)
}

func (h *HTTPEndpoint) Kill(ctx context.Context, runID id.RunID) error {
	return h.post(ctx, "/kill", map[string]id.RunID{"run_id": runID}, nil, nil)
}

func (h *HTTPEndpoint) Beat(ctx context.Context) error {
	var resp struct {
		Busy int64 `json:"busy"`
	}
	if err := h.post(ctx, "/beat", struct{}{}, nil, &resp); err != nil {
		return err
	}
	h.busy.Store(resp.Busy)
	return nil
}

func (h *HTTPEndpoint) IdleBeat(ctx context.Context, jobID int64) error {
	return h.post(ctx, "/idle-beat", map[string]int64{"job_id": jobID}, nil, nil)
}

func (h *HTTPEndpoint) post(ctx context.Context, path string, body any, headers map[string]string, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("executor: encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("executor: build %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("executor: %s%s: %w", h.base, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // best effort error text
		return fmt.Errorf("executor: %s%s: %s: %s", h.base, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("executor: decode %s: %w", path, err)
	}
	return nil
}
