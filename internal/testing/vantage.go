package testing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Fake Vantage Point
// =============================================================================

// FakeVantage is an in-process JSON-RPC vantage point. Unconfigured methods
// answer with a JSON-RPC error.
//
// Example:
//
//	vp := testing.NewFakeVantage(t)
//	vp.SetResult("get-version", map[string]string{"version": "0.7.0"})
//	vp.SetResult("get-pods-with-stats", testing.Pods(testing.Pod("10.0.0.1:9001", 100)))
type FakeVantage struct {
	server *httptest.Server

	mu      sync.Mutex
	results map[string]json.RawMessage
	remote  map[string]string
	status  map[string]int
	calls   map[string]int
	delay   time.Duration
}

// NewFakeVantage starts a fake vantage point closed at test cleanup.
func NewFakeVantage(t testing.TB) *FakeVantage {
	t.Helper()
	f := &FakeVantage{
		results: make(map[string]json.RawMessage),
		remote:  make(map[string]string),
		status:  make(map[string]int),
		calls:   make(map[string]int),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

// Addr returns host:port of the fake.
func (f *FakeVantage) Addr() string {
	return f.server.Listener.Addr().String()
}

// Close stops the fake; later calls fail to connect.
func (f *FakeVantage) Close() {
	f.server.Close()
}

// SetResult makes method answer with v as its result.
func (f *FakeVantage) SetResult(method string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[method] = raw
	delete(f.remote, method)
	delete(f.status, method)
}

// SetRemoteError makes method answer with a JSON-RPC error member.
func (f *FakeVantage) SetRemoteError(method, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote[method] = message
	delete(f.results, method)
}

// SetStatus makes method answer with an HTTP status and no body.
func (f *FakeVantage) SetStatus(method string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[method] = code
}

// SetDelay delays every answer by d.
func (f *FakeVantage) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Calls returns how often method was called.
func (f *FakeVantage) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *FakeVantage) serve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string `json:"method"`
		ID     any    `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.calls[req.Method]++
	delay := f.delay
	result, hasResult := f.results[req.Method]
	remote, hasRemote := f.remote[req.Method]
	code, hasStatus := f.status[req.Method]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if hasStatus {
		w.WriteHeader(code)
		return
	}

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	switch {
	case hasResult:
		resp["result"] = result
	case hasRemote:
		resp["error"] = map[string]any{"code": -32000, "message": remote}
	default:
		resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// =============================================================================
// Fixtures
// =============================================================================

// Pod returns a wire pod with sensible defaults.
func Pod(address string, lastSeen int64) map[string]any {
	return map[string]any{
		"address":               address,
		"pubkey":                "pk-" + address,
		"is_public":             true,
		"rpc_port":              6000,
		"storage_committed":     100 << 30,
		"storage_used":          50 << 30,
		"storage_usage_percent": 50.0,
		"uptime":                86400 * 10,
		"version":               "0.7.0",
		"last_seen_timestamp":   lastSeen,
	}
}

// Pods wraps pods in a get-pods result object.
func Pods(pods ...map[string]any) map[string]any {
	if pods == nil {
		pods = []map[string]any{}
	}
	return map[string]any{"pods": pods, "total_count": len(pods)}
}

// Stats returns a get-stats result.
func Stats(cpu float64, ramUsed, ramTotal int64) map[string]any {
	return map[string]any{
		"cpu_percent":      cpu,
		"ram_used":         ramUsed,
		"ram_total":        ramTotal,
		"uptime":           3600,
		"packets_received": 10,
		"packets_sent":     20,
		"active_streams":   2,
		"total_bytes":      1024,
		"total_pages":      4,
		"file_size":        4096,
		"last_updated":     1_700_000_000,
	}
}
