package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/fyrsmithlabs/signald/internal/breaker"
	"github.com/fyrsmithlabs/signald/internal/consensus"
	"github.com/fyrsmithlabs/signald/internal/discovery"
	"github.com/fyrsmithlabs/signald/internal/governor"
	"github.com/fyrsmithlabs/signald/internal/scheduler"
	"github.com/fyrsmithlabs/signald/internal/store"
	"github.com/fyrsmithlabs/signald/internal/telemetry"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDiscovery struct {
	candidates []store.Candidate
	statuses   []store.Status
	decided    map[string]string
	err        error
}

func (f *fakeDiscovery) GetSummary(ctx context.Context) (discovery.Summary, error) {
	if f.err != nil {
		return discovery.Summary{}, f.err
	}
	return discovery.Summary{Suggested: 2, Approved: 5, Rejected: 1}, nil
}

func (f *fakeDiscovery) Candidates(ctx context.Context, statuses ...store.Status) ([]store.Candidate, error) {
	f.statuses = statuses
	return f.candidates, f.err
}

func (f *fakeDiscovery) decide(identity string, st store.Status) (store.Candidate, error) {
	if identity == "bad!" {
		return store.Candidate{}, fmt.Errorf("%w: %q", discovery.ErrInvalidIdentity, identity)
	}
	if f.decided == nil {
		f.decided = map[string]string{}
	}
	f.decided[identity] = st.String()
	return store.Candidate{Identity: identity, Status: st}, nil
}

func (f *fakeDiscovery) Approve(ctx context.Context, identity, reason string) (store.Candidate, error) {
	c, err := f.decide(identity, store.StatusApproved)
	c.Reason = reason
	return c, err
}

func (f *fakeDiscovery) Reject(ctx context.Context, identity, reason string) (store.Candidate, error) {
	c, err := f.decide(identity, store.StatusRejected)
	c.Reason = reason
	return c, err
}

type fakeConsensus struct {
	window time.Duration
	days   int
}

func (f *fakeConsensus) Detect(ctx context.Context, topic string, window time.Duration) ([]consensus.Signal, error) {
	f.window = window
	if topic == "quiet" {
		return nil, nil
	}
	return []consensus.Signal{{Topic: topic, Count: 6, Confidence: consensus.ConfidenceHigh}}, nil
}

func (f *fakeConsensus) DetectShift(ctx context.Context, topic string, days int) (*consensus.Shift, error) {
	f.days = days
	if topic == "broken" {
		return nil, errors.New("store down")
	}
	return &consensus.Shift{Topic: topic, Kind: consensus.ShiftAcceleration, Severity: consensus.SeverityLow}, nil
}

type fakeTelemetry struct{ health telemetry.HealthStatus }

func (f fakeTelemetry) Health() telemetry.HealthStatus { return f.health }

type panickingLoops struct{}

func (panickingLoops) Status() []scheduler.LoopStatus { panic("loop table corrupted") }

func (panickingLoops) RunNow(context.Context, string) error { return nil }

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	s, err := NewServer(deps, zap.NewNop(), nil)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer(t *testing.T) {
	s, err := NewServer(Deps{}, zap.NewNop(), nil)
	require.NoError(t, err)
	assert.Equal(t, "localhost", s.config.Host)
	assert.Equal(t, 9191, s.config.Port)

	_, err = NewServer(Deps{}, nil, nil)
	assert.ErrorContains(t, err, "logger is required")
}

func TestHandleHealth(t *testing.T) {
	rec := do(t, newTestServer(t, Deps{}), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
}

func TestHandleStatus(t *testing.T) {
	gov, err := governor.New([]governor.Window{{Resource: "feed.fetch", Window: time.Minute, Limit: 10}})
	require.NoError(t, err)
	gov.RecordCall("feed.fetch")
	reg := breaker.NewRegistry(breaker.DefaultConfig())
	reg.Get("feed")

	t.Run("all sections", func(t *testing.T) {
		sched := scheduler.New()
		s := newTestServer(t, Deps{Quotas: gov, Circuits: reg, Loops: sched, Telemetry: fakeTelemetry{telemetry.HealthStatus{Healthy: true}}})
		rec := do(t, s, http.MethodGet, "/api/v1/status", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[StatusResponse](t, rec)
		assert.Equal(t, "ok", resp.Status)
		require.True(t, resp.Quotas.Available)
		assert.Equal(t, 1, resp.Quotas.Data[0].Windows[0].Used)
		require.True(t, resp.Circuits.Available)
		assert.Equal(t, "feed", resp.Circuits.Data[0].Dependency)
		assert.True(t, resp.Loops.Available)
		assert.True(t, resp.Telemetry.Data.Healthy)
	})

	t.Run("degraded telemetry", func(t *testing.T) {
		tel := fakeTelemetry{telemetry.HealthStatus{Healthy: true, Degraded: true, LastError: "exporter refused"}}
		s := newTestServer(t, Deps{Quotas: gov, Circuits: reg, Loops: scheduler.New(), Telemetry: tel})
		resp := decode[StatusResponse](t, do(t, s, http.MethodGet, "/api/v1/status", nil))
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "exporter refused", resp.Telemetry.Data.LastError)
	})

	t.Run("open circuit", func(t *testing.T) {
		open := breaker.NewRegistry(breaker.Config{FailureThreshold: 1, ResetTimeout: time.Hour})
		_ = open.Get("oracle").Execute(context.Background(), func(context.Context) error { return errors.New("down") })
		s := newTestServer(t, Deps{Quotas: gov, Circuits: open, Loops: scheduler.New()})
		resp := decode[StatusResponse](t, do(t, s, http.MethodGet, "/api/v1/status", nil))
		assert.Equal(t, "degraded", resp.Status)
		require.Len(t, resp.Circuits.Data, 1)
		assert.Equal(t, breaker.Open, resp.Circuits.Data[0].State)
	})

	t.Run("panicking and missing sections degrade", func(t *testing.T) {
		s := newTestServer(t, Deps{Quotas: gov, Loops: panickingLoops{}})
		rec := do(t, s, http.MethodGet, "/api/v1/status", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[StatusResponse](t, rec)
		assert.Equal(t, "degraded", resp.Status)
		assert.True(t, resp.Quotas.Available)
		assert.False(t, resp.Circuits.Available)
		assert.False(t, resp.Loops.Available)
		assert.Contains(t, resp.Loops.Error, "loop table corrupted")
	})
}

func TestHandleSummary(t *testing.T) {
	rec := do(t, newTestServer(t, Deps{Discovery: &fakeDiscovery{}}), http.MethodGet, "/api/v1/discovery/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, decode[discovery.Summary](t, rec).Approved)

	rec = do(t, newTestServer(t, Deps{Discovery: &fakeDiscovery{err: errors.New("boom")}}), http.MethodGet, "/api/v1/discovery/summary", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = do(t, newTestServer(t, Deps{}), http.MethodGet, "/api/v1/discovery/summary", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleCandidates(t *testing.T) {
	d := &fakeDiscovery{candidates: []store.Candidate{{Identity: "carol", Status: store.StatusSuggested}}}
	s := newTestServer(t, Deps{Discovery: d})

	rec := do(t, s, http.MethodGet, "/api/v1/candidates?status=suggested,approved", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[CandidatesResponse](t, rec)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, store.StatusSuggested, resp.Candidates[0].Status)
	assert.Equal(t, []store.Status{store.StatusSuggested, store.StatusApproved}, d.statuses)

	rec = do(t, s, http.MethodGet, "/api/v1/candidates?status=famous", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDecisions(t *testing.T) {
	d := &fakeDiscovery{}
	s := newTestServer(t, Deps{Discovery: d})

	rec := do(t, s, http.MethodPost, "/api/v1/candidates/alice/approve", []byte(`{"reason":"known analyst"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	c := decode[store.Candidate](t, rec)
	assert.Equal(t, store.StatusApproved, c.Status)
	assert.Equal(t, "known analyst", c.Reason)

	rec = do(t, s, http.MethodPost, "/api/v1/candidates/bob/reject", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rejected", d.decided["bob"])

	rec = do(t, s, http.MethodPost, "/api/v1/candidates/bad!/reject", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/candidates/alice/approve", []byte(`{not json`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleConsensus(t *testing.T) {
	cons := &fakeConsensus{}
	s := newTestServer(t, Deps{Consensus: cons})

	rec := do(t, s, http.MethodGet, "/api/v1/consensus/btc?window=24h", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ConsensusResponse](t, rec)
	require.Len(t, resp.Signals, 1)
	assert.Equal(t, consensus.ConfidenceHigh, resp.Signals[0].Confidence)
	assert.Equal(t, 24*time.Hour, cons.window)

	rec = do(t, s, http.MethodGet, "/api/v1/consensus/quiet", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"signals":[]`)
	assert.Equal(t, time.Duration(0), cons.window)

	rec = do(t, s, http.MethodGet, "/api/v1/consensus/btc?window=soon", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleShift(t *testing.T) {
	cons := &fakeConsensus{}
	s := newTestServer(t, Deps{Consensus: cons})

	rec := do(t, s, http.MethodGet, "/api/v1/consensus/btc/shift?days=14", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ShiftResponse](t, rec)
	require.NotNil(t, resp.Shift)
	assert.Equal(t, consensus.ShiftAcceleration, resp.Shift.Kind)
	assert.Equal(t, 14, cons.days)

	rec = do(t, s, http.MethodGet, "/api/v1/consensus/btc/shift?days=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/consensus/broken/shift", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := do(t, newTestServer(t, Deps{}), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}

func TestServerLifecycle(t *testing.T) {
	s, err := NewServer(Deps{}, zap.NewNop(), &Config{Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestHandleRunLoop(t *testing.T) {
	sched := scheduler.New()
	runs := 0
	require.NoError(t, sched.Add(scheduler.Job{Name: "ingest", Interval: time.Hour, Run: func(context.Context) error {
		runs++
		return nil
	}}))
	require.NoError(t, sched.Add(scheduler.Job{Name: "digest", Interval: time.Hour, Run: func(context.Context) error {
		return errors.New("nats down")
	}}))
	s := newTestServer(t, Deps{Loops: sched})

	rec := do(t, s, http.MethodPost, "/api/v1/loops/ingest/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[scheduler.LoopStatus](t, rec)
	assert.Equal(t, "ingest", st.Name)
	assert.Equal(t, 1, runs)
	assert.EqualValues(t, 1, st.Runs)

	rec = do(t, s, http.MethodPost, "/api/v1/loops/digest/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st = decode[scheduler.LoopStatus](t, rec)
	assert.EqualValues(t, 1, st.Failures)
	assert.Equal(t, "nats down", st.LastError)

	rec = do(t, s, http.MethodPost, "/api/v1/loops/purge/run", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, newTestServer(t, Deps{}), http.MethodPost, "/api/v1/loops/ingest/run", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
