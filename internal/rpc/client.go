package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/xtxerr/podwatch/config"
	"github.com/xtxerr/podwatch/internal/errors"
	"github.com/xtxerr/podwatch/internal/logging"
)

var log = logging.Component("rpc")

// maxResponseBytes caps a single response body.
const maxResponseBytes = 32 << 20

// ClientConfig holds vantage point client configuration.
type ClientConfig struct {
	// Timeout bounds one call, connect to last body byte.
	Timeout time.Duration

	// Path is the JSON-RPC endpoint path.
	Path string

	// HTTPClient overrides the transport. Optional.
	HTTPClient *http.Client
}

// DefaultClientConfig returns default client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout: config.DefaultRPCTimeout,
		Path:    config.DefaultRPCPath,
	}
}

// Client issues JSON-RPC calls to vantage points.
//
// Client is safe for concurrent use.
type Client struct {
	http    *http.Client
	timeout time.Duration
	path    string
}

// NewClient creates a vantage point client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultRPCTimeout
	}
	if cfg.Path == "" {
		cfg.Path = config.DefaultRPCPath
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		http:    hc,
		timeout: cfg.Timeout,
		path:    cfg.Path,
	}
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  Method `json:"method"`
	ID      int    `json:"id"`
}

type remoteError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *remoteError    `json:"error"`
	ID      json.RawMessage `json:"id"`
}

// Call performs one call bounded by the client timeout. It never returns
// a Go error: failures are carried in Result.Err.
func (c *Client) Call(ctx context.Context, vp VantagePoint, method Method) Result {
	addr := vp.String()
	fail := func(kind ErrorKind, format string, args ...any) Result {
		e := &Error{VantagePoint: addr, Method: method, Reason: fmt.Sprintf(format, args...), Kind: kind}
		logging.FromContext(ctx, log).Warn("rpc call failed",
			"vantage", addr, "method", string(method), "kind", kind.String(), "reason", e.Reason)
		return Result{Err: e}
	}

	body, err := json.Marshal(request{JSONRPC: "2.0", Method: method, ID: 1})
	if err != nil {
		return fail(KindMalformed, "encode request: %v", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, vp.URL(c.path), bytes.NewReader(body))
	if err != nil {
		return fail(KindUnreachable, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(callCtx, err) {
			return fail(KindTimeout, "request timed out after %s", c.timeout)
		}
		return fail(KindUnreachable, "http request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fail(KindHTTPStatus, "http status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(callCtx, err) {
			return fail(KindTimeout, "reading body timed out after %s", c.timeout)
		}
		return fail(KindUnreachable, "read body: %v", err)
	}

	var rr response
	if err := json.Unmarshal(raw, &rr); err != nil {
		return fail(KindMalformed, "invalid JSON response")
	}
	if rr.Error != nil {
		return fail(KindRemote, "remote error %d: %s", rr.Error.Code, rr.Error.Message)
	}
	if len(rr.Result) == 0 || bytes.Equal(rr.Result, []byte("null")) {
		return fail(KindMalformed, "response has no result")
	}

	log.Debug("rpc call ok", "vantage", addr, "method", string(method),
		"elapsed_ms", time.Since(start).Milliseconds(), "bytes", len(raw))

	return Result{Value: rr.Result}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
