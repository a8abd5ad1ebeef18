package scheduler

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/podwatch/internal/pods"
	"github.com/xtxerr/podwatch/internal/rpc"
)

// =============================================================================
// Health State Constants
// =============================================================================

const (
	// HealthUnknown indicates no cycle has queried the vantage point yet.
	HealthUnknown = "unknown"

	// HealthUp indicates the last cycle returned a pod listing and every
	// other call succeeded.
	HealthUp = "up"

	// HealthDegraded indicates partial answers or intermittent failures.
	HealthDegraded = "degraded"

	// HealthDown indicates consecutive cycles without a pod listing.
	HealthDown = "down"
)

// downAfter is the number of consecutive failed cycles that mark a vantage
// point down.
const downAfter = 3

// =============================================================================
// VantageState
// =============================================================================

// VantageState holds the cross-cycle health of one vantage point.
//
// VantageState is safe for concurrent use. Counters use atomic operations;
// everything else is protected by mu.
type VantageState struct {
	Vantage string

	CyclesTotal   atomic.Int64
	CyclesSuccess atomic.Int64
	CyclesFailed  atomic.Int64
	Fallbacks     atomic.Int64

	mu                  sync.RWMutex
	healthState         string
	lastError           string
	consecutiveFailures int
	lastPollAt          *time.Time
	lastSuccessAt       *time.Time
	lastFailureAt       *time.Time

	podsSum   int64
	podsMin   int // -1 means not set
	podsMax   int
	podsCount int
}

// NewVantageState creates the state of a vantage point not yet queried.
func NewVantageState(vantage string) *VantageState {
	return &VantageState{
		Vantage:     vantage,
		healthState: HealthUnknown,
		podsMin:     -1,
	}
}

// RecordResult folds one cycle's result into the state.
func (s *VantageState) RecordResult(r pods.VantageResult, at time.Time) {
	s.CyclesTotal.Add(1)
	if r.Failed() {
		s.CyclesFailed.Add(1)
		s.recordFailure(describeErrors(r.Errors), at)
		return
	}

	s.CyclesSuccess.Add(1)
	if r.PodsMethod == string(rpc.MethodGetPods) {
		s.Fallbacks.Add(1)
	}
	s.recordSuccess(r.PodCount, describeErrors(r.Errors), at)
}

func (s *VantageState) recordSuccess(podCount int, partialErr string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastPollAt = &at
	s.lastSuccessAt = &at
	s.consecutiveFailures = 0
	s.lastError = partialErr
	if partialErr != "" {
		s.healthState = HealthDegraded
	} else {
		s.healthState = HealthUp
	}

	s.podsSum += int64(podCount)
	s.podsCount++
	if s.podsMin < 0 || podCount < s.podsMin {
		s.podsMin = podCount
	}
	if podCount > s.podsMax {
		s.podsMax = podCount
	}
}

func (s *VantageState) recordFailure(errMsg string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastPollAt = &at
	s.lastFailureAt = &at
	s.consecutiveFailures++
	s.lastError = errMsg

	if s.consecutiveFailures >= downAfter {
		s.healthState = HealthDown
	} else {
		s.healthState = HealthDegraded
	}
}

// HealthState returns the current health state.
func (s *VantageState) HealthState() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthState
}

// ConsecutiveFailures returns the count of consecutive failed cycles.
func (s *VantageState) ConsecutiveFailures() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.consecutiveFailures
}

// VantageStatus is a point-in-time copy of a VantageState.
type VantageStatus struct {
	Vantage             string     `json:"vantage"`
	Health              string     `json:"health"`
	LastError           string     `json:"last_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastPollAt          *time.Time `json:"last_poll_at,omitempty"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	CyclesTotal         int64      `json:"cycles_total"`
	CyclesSuccess       int64      `json:"cycles_success"`
	CyclesFailed        int64      `json:"cycles_failed"`
	Fallbacks           int64      `json:"pods_fallbacks"`
	AvgPods             float64    `json:"avg_pods"`
	MinPods             int        `json:"min_pods"`
	MaxPods             int        `json:"max_pods"`
}

// Status returns a copy of the current state.
func (s *VantageState) Status() VantageStatus {
	st := VantageStatus{
		Vantage:       s.Vantage,
		CyclesTotal:   s.CyclesTotal.Load(),
		CyclesSuccess: s.CyclesSuccess.Load(),
		CyclesFailed:  s.CyclesFailed.Load(),
		Fallbacks:     s.Fallbacks.Load(),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	st.Health = s.healthState
	st.LastError = s.lastError
	st.ConsecutiveFailures = s.consecutiveFailures
	st.LastPollAt = s.lastPollAt
	st.LastSuccessAt = s.lastSuccessAt
	st.LastFailureAt = s.lastFailureAt
	if s.podsCount > 0 {
		st.AvgPods = float64(s.podsSum) / float64(s.podsCount)
	}
	if s.podsMin >= 0 {
		st.MinPods = s.podsMin
	}
	st.MaxPods = s.podsMax
	return st
}

// describeErrors renders per-method failures in method order.
func describeErrors(errs map[string]string) string {
	if len(errs) == 0 {
		return ""
	}
	methods := make([]string, 0, len(errs))
	for m := range errs {
		methods = append(methods, m)
	}
	sort.Strings(methods)

	parts := make([]string, 0, len(methods))
	for _, m := range methods {
		parts = append(parts, m+": "+errs[m])
	}
	return strings.Join(parts, "; ")
}

// =============================================================================
// VantageHealth
// =============================================================================

// VantageHealth tracks every vantage point across cycles.
//
// VantageHealth is safe for concurrent use.
type VantageHealth struct {
	mu     sync.RWMutex
	states map[string]*VantageState
	order  []string
}

// NewVantageHealth creates a tracker with one state per configured vantage
// point.
func NewVantageHealth(vps []rpc.VantagePoint) *VantageHealth {
	h := &VantageHealth{states: make(map[string]*VantageState, len(vps))}
	for _, vp := range vps {
		h.get(vp.String())
	}
	return h
}

// Get returns the state for a vantage point, creating it if needed.
func (h *VantageHealth) Get(vantage string) *VantageState {
	// Fast path: read lock
	h.mu.RLock()
	st, ok := h.states[vantage]
	h.mu.RUnlock()
	if ok {
		return st
	}
	return h.get(vantage)
}

func (h *VantageHealth) get(vantage string) *VantageState {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Double-check after acquiring write lock
	if st, ok := h.states[vantage]; ok {
		return st
	}
	st := NewVantageState(vantage)
	h.states[vantage] = st
	h.order = append(h.order, vantage)
	return st
}

func (h *VantageHealth) record(results []pods.VantageResult, at time.Time) {
	for _, r := range results {
		h.Get(r.Vantage).RecordResult(r, at)
	}
}

// All returns the status of every tracked vantage point in the order they
// were first seen.
func (h *VantageHealth) All() []VantageStatus {
	h.mu.RLock()
	states := make([]*VantageState, 0, len(h.order))
	for _, v := range h.order {
		states = append(states, h.states[v])
	}
	h.mu.RUnlock()

	out := make([]VantageStatus, 0, len(states))
	for _, st := range states {
		out = append(out, st.Status())
	}
	return out
}
