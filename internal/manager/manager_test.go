package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/podwatch/internal/errors"
	"github.com/xtxerr/podwatch/internal/loader"
	tu "github.com/xtxerr/podwatch/internal/testing"
)

var epoch = time.Unix(1_700_000_000, 0).UTC()

func testConfig(vantages ...string) *loader.Config {
	cfg := loader.DefaultConfig()
	cfg.Store.Path = ""
	cfg.Server.Listen = ""
	cfg.Aggregation.VantagePoints = vantages
	cfg.Aggregation.DrainTimeout = loader.Duration(2 * time.Second)
	return cfg
}

func newManager(t *testing.T, cfg *loader.Config) (*Manager, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(epoch)

	m, err := New(cfg, WithClock(mock))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, mock
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig("bad host")
	cfg.RPC.Timeout = 0

	_, err := New(cfg)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestNewWithoutServer(t *testing.T) {
	m, _ := newManager(t, testConfig())
	assert.Nil(t, m.Server())
	assert.NotNil(t, m.Cache())
	assert.NoError(t, m.Store().Health(context.Background()))
}

func TestNewWithoutCache(t *testing.T) {
	cfg := testConfig()
	cfg.RPC.Cache = false
	m, _ := newManager(t, cfg)
	assert.Nil(t, m.Cache())
}

func TestRunOnceAndPrune(t *testing.T) {
	vp := tu.NewFakeVantage(t)
	vp.SetResult("get-version", map[string]string{"version": "0.7.0"})
	vp.SetResult("get-pods-with-stats", tu.Pods(
		tu.Pod("10.0.0.1:9001", epoch.Unix()),
		tu.Pod("10.0.0.2:9001", epoch.Unix()),
	))

	m, mock := newManager(t, testConfig(vp.Addr()))
	ctx := context.Background()

	report := m.RunOnce(ctx)
	require.Nil(t, report.Panic)
	assert.Equal(t, 2, report.MergedPods)
	assert.Empty(t, report.FailedVantages)

	// A second cycle inside the same interval is answered from the cache.
	m.RunOnce(ctx)
	assert.Equal(t, 1, vp.Calls("get-pods-with-stats"))
	assert.Positive(t, m.Cache().Stats().Hits)

	n, err := m.Store().Registry().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	mock.Add(100 * 24 * time.Hour)

	res, err := m.Prune(ctx, 0, true)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, 2, res.Matched)
	assert.Zero(t, res.Deleted)

	res, err = m.Prune(ctx, 200*24*time.Hour, false)
	require.NoError(t, err)
	assert.Zero(t, res.Matched)

	res, err = m.Prune(ctx, 0, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Deleted)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Metrics().RegistryPruned))

	_, err = m.Prune(ctx, -time.Hour, false)
	assert.True(t, errors.IsValidation(err))
}

func TestRunServesOps(t *testing.T) {
	vp := tu.NewFakeVantage(t)
	vp.SetResult("get-pods-with-stats", tu.Pods(tu.Pod("10.0.0.1:9001", epoch.Unix())))

	cfg := testConfig(vp.Addr())
	cfg.Server.Listen = "127.0.0.1:0"
	m, _ := newManager(t, cfg)
	require.NotNil(t, m.Server())

	ctx, cancel := context.WithCancel(context.Background())
	gt := tu.NewGoroutineTestWithTimeout(t, 10*time.Second)
	gt.Go(func() error { return m.Run(ctx) })

	require.NoError(t, tu.Eventually(5*time.Second, 10*time.Millisecond, func() bool {
		return m.Scheduler().Stats().Cycles >= 1
	}))

	resp, err := http.Get(fmt.Sprintf("http://%s/v1/vantages", m.Server().Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Count    int `json:"count"`
		Vantages []struct {
			Vantage string `json:"vantage"`
			Health  string `json:"health"`
		} `json:"vantages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, 1, body.Count)
	assert.NotEqual(t, "unknown", body.Vantages[0].Health)

	cancel()
	gt.Wait()

	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}

func TestStopEndsRun(t *testing.T) {
	m, _ := newManager(t, testConfig())

	gt := tu.NewGoroutineTestWithTimeout(t, 10*time.Second)
	gt.Go(func() error { return m.Run(context.Background()) })

	require.NoError(t, tu.Eventually(5*time.Second, 10*time.Millisecond, func() bool {
		return m.Scheduler().Stats().Cycles >= 1
	}))
	m.Stop()
	gt.Wait()
}
