package scheduler

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/podwatch/internal/logging"
	"github.com/xtxerr/podwatch/internal/pods"
	"github.com/xtxerr/podwatch/internal/rpc"
)

// fetchAll queries every vantage point concurrently. Results keep the
// configured vantage order.
func (s *Scheduler) fetchAll(ctx context.Context) []pods.VantageResult {
	results := make([]pods.VantageResult, len(s.cfg.VantagePoints))

	var g errgroup.Group
	for i, vp := range s.cfg.VantagePoints {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					s.panics.Add(1)
					logging.FromContext(ctx, log).Error("panic fetching vantage point",
						"vantage", vp.String(), "panic", r)
					results[i] = pods.VantageResult{Vantage: vp.String()}
					results[i].SetError(string(rpc.MethodGetPodsWithStats), fmt.Sprintf("panic: %v", r))
				}
			}()
			results[i] = s.fetchVantage(logging.ContextWithVantage(ctx, vp.String()), vp)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// fetchVantage issues get-version, get-stats and the pod listing against
// one vantage point concurrently.
func (s *Scheduler) fetchVantage(ctx context.Context, vp rpc.VantagePoint) pods.VantageResult {
	name := vp.String()
	clog := logging.FromContext(ctx, log)
	res := pods.VantageResult{Vantage: name}

	var (
		versionRes rpc.Result
		statsRes   rpc.Result
		listing    podListing
	)

	var g errgroup.Group
	g.Go(func() error {
		versionRes = s.call(ctx, vp, rpc.MethodGetVersion)
		return nil
	})
	g.Go(func() error {
		statsRes = s.call(ctx, vp, rpc.MethodGetStats)
		return nil
	})
	g.Go(func() error {
		listing = s.fetchPods(ctx, vp)
		return nil
	})
	_ = g.Wait()

	if versionRes.OK() {
		v, err := pods.DecodeVersion(versionRes.Value)
		if err != nil {
			s.callFailed(res.Vantage, malformed(name, rpc.MethodGetVersion, err), &res)
		} else {
			res.Version = v
		}
	} else {
		s.callFailed(res.Vantage, versionRes.Err, &res)
	}

	if statsRes.OK() {
		md, st, err := pods.DecodeStats(statsRes.Value, s.deps.Clock.Now())
		if err != nil {
			s.callFailed(res.Vantage, malformed(name, rpc.MethodGetStats, err), &res)
		} else {
			res.Metadata = &md
			res.Stats = &st
		}
	} else {
		s.callFailed(res.Vantage, statsRes.Err, &res)
	}

	for _, e := range listing.errs {
		s.callFailed(res.Vantage, e, &res)
	}
	if listing.method != "" {
		res.PodsMethod = string(listing.method)
		res.Observations = listing.list.Observations
		res.PodCount = len(listing.list.Observations)
		res.PodsTotalCount = listing.list.TotalCount
	}

	clog.Debug("vantage point fetched",
		"version", res.Version,
		"pods", res.PodCount,
		"pods_method", res.PodsMethod,
		"errors", len(res.Errors))

	return res
}

type podListing struct {
	method rpc.Method
	list   pods.PodList
	errs   []*rpc.Error
}

// fetchPods tries get-pods-with-stats and, only if that fails, get-pods
// once. method is empty when neither produced a usable listing.
func (s *Scheduler) fetchPods(ctx context.Context, vp rpc.VantagePoint) podListing {
	var out podListing

	list, err := s.podsVia(ctx, vp, rpc.MethodGetPodsWithStats)
	if err == nil {
		out.method, out.list = rpc.MethodGetPodsWithStats, list
		return out
	}
	out.errs = append(out.errs, err)

	list, err = s.podsVia(ctx, vp, rpc.MethodGetPods)
	if err != nil {
		out.errs = append(out.errs, err)
		return out
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.PodsFallbacks.Inc()
	}
	logging.FromContext(ctx, log).Debug("pod listing served by fallback", "method", rpc.MethodGetPods)

	out.method, out.list = rpc.MethodGetPods, list
	return out
}

func (s *Scheduler) podsVia(ctx context.Context, vp rpc.VantagePoint, method rpc.Method) (pods.PodList, *rpc.Error) {
	r := s.call(ctx, vp, method)
	if !r.OK() {
		return pods.PodList{}, r.Err
	}
	list, err := pods.DecodePods(r.Value, vp.String())
	if err != nil {
		return pods.PodList{}, malformed(vp.String(), method, err)
	}
	if list.Dropped > 0 {
		logging.FromContext(ctx, log).Debug("pods without identity dropped",
			"method", method, "dropped", list.Dropped)
	}
	return list, nil
}

// call invokes the caller, turning a panic into a failed result.
func (s *Scheduler) call(ctx context.Context, vp rpc.VantagePoint, method rpc.Method) (res rpc.Result) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			logging.FromContext(ctx, log).Error("panic in vantage point call",
				"method", method, "panic", r)
			res = rpc.Result{Err: &rpc.Error{
				VantagePoint: vp.String(),
				Method:       method,
				Reason:       fmt.Sprintf("panic: %v", r),
				Kind:         rpc.KindRemote,
			}}
		}
	}()
	return s.deps.Caller.Call(ctx, vp, method)
}

func (s *Scheduler) callFailed(vantage string, e *rpc.Error, res *pods.VantageResult) {
	if e == nil {
		return
	}
	res.SetError(string(e.Method), e.Reason)
	if s.deps.Metrics != nil {
		s.deps.Metrics.VantageFailures.WithLabelValues(vantage, string(e.Method), e.Kind.String()).Inc()
	}
	log.Warn("vantage point call failed",
		"vantage", vantage,
		"method", e.Method,
		"kind", e.Kind.String(),
		"reason", e.Reason)
}

func malformed(vantage string, method rpc.Method, err error) *rpc.Error {
	return &rpc.Error{
		VantagePoint: vantage,
		Method:       method,
		Reason:       err.Error(),
		Kind:         rpc.KindMalformed,
	}
}
