package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/signald/internal/breaker"
	"github.com/fyrsmithlabs/signald/internal/consensus"
	"github.com/fyrsmithlabs/signald/internal/discovery"
	"github.com/fyrsmithlabs/signald/internal/governor"
	"github.com/fyrsmithlabs/signald/internal/scheduler"
	"github.com/fyrsmithlabs/signald/internal/store"
	"github.com/fyrsmithlabs/signald/internal/telemetry"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

var errUnavailable = errors.New("component not configured")

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleStatus reports quotas, circuits, loops and telemetry. It always
// answers 200; a section that fails is marked unavailable instead.
func (s *Server) handleStatus(c echo.Context) error {
	resp := StatusResponse{
		Quotas: section(s.logger, "quotas", func() ([]governor.ResourceStatus, error) {
			if s.deps.Quotas == nil {
				return nil, errUnavailable
			}
			return s.deps.Quotas.Status(), nil
		}),
		Circuits: section(s.logger, "circuits", func() ([]breaker.Snapshot, error) {
			if s.deps.Circuits == nil {
				return nil, errUnavailable
			}
			return s.deps.Circuits.Snapshot(), nil
		}),
		Loops: section(s.logger, "loops", func() ([]scheduler.LoopStatus, error) {
			if s.deps.Loops == nil {
				return nil, errUnavailable
			}
			return s.deps.Loops.Status(), nil
		}),
		Telemetry: section(s.logger, "telemetry", func() (telemetry.HealthStatus, error) {
			if s.deps.Telemetry == nil {
				return telemetry.HealthStatus{}, errUnavailable
			}
			return s.deps.Telemetry.Health(), nil
		}),
	}

	resp.Status = "ok"
	if !resp.Quotas.Available || !resp.Circuits.Available || !resp.Loops.Available {
		resp.Status = "degraded"
	}
	if resp.Telemetry.Available && resp.Telemetry.Data.Degraded {
		resp.Status = "degraded"
	}
	for _, b := range resp.Circuits.Data {
		if b.State != breaker.Closed {
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// section builds one status section, converting errors and panics into an
// unavailable section.
func section[T any](logger *zap.Logger, name string, build func() (T, error)) (out Section[T]) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("status section panicked", zap.String("section", name), zap.Any("panic", r))
			out = Section[T]{Error: fmt.Sprintf("panic: %v", r)}
		}
	}()
	v, err := build()
	if err != nil {
		return Section[T]{Error: err.Error()}
	}
	return Section[T]{Available: true, Data: v}
}

func (s *Server) handleSummary(c echo.Context) error {
	if s.deps.Discovery == nil {
		return unavailable()
	}
	sum, err := s.deps.Discovery.GetSummary(c.Request().Context())
	if err != nil {
		return s.internal(c, "discovery summary failed", err)
	}
	return c.JSON(http.StatusOK, sum)
}

// handleCandidates lists candidates. ?status= takes a comma-separated list.
func (s *Server) handleCandidates(c echo.Context) error {
	if s.deps.Discovery == nil {
		return unavailable()
	}
	var statuses []store.Status
	if raw := c.QueryParam("status"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			st, err := store.ParseStatus(strings.TrimSpace(name))
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}
			statuses = append(statuses, st)
		}
	}

	list, err := s.deps.Discovery.Candidates(c.Request().Context(), statuses...)
	if err != nil {
		return s.internal(c, "list candidates failed", err)
	}
	if list == nil {
		list = []store.Candidate{}
	}
	return c.JSON(http.StatusOK, CandidatesResponse{Candidates: list, Count: len(list)})
}

func (s *Server) handleApprove(c echo.Context) error {
	return s.decide(c, "approve", func(d Discovery) decision { return d.Approve })
}

func (s *Server) handleReject(c echo.Context) error {
	return s.decide(c, "reject", func(d Discovery) decision { return d.Reject })
}

type decision func(ctx context.Context, identity, reason string) (store.Candidate, error)

func (s *Server) decide(c echo.Context, action string, pick func(Discovery) decision) error {
	if s.deps.Discovery == nil {
		return unavailable()
	}
	ctx := c.Request().Context()
	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		s.metrics.RecordDecision(ctx, action, "invalid")
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	cand, err := pick(s.deps.Discovery)(ctx, c.Param("identity"), req.Reason)
	switch {
	case errors.Is(err, discovery.ErrInvalidIdentity):
		s.metrics.RecordDecision(ctx, action, "invalid")
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		s.metrics.RecordDecision(ctx, action, "error")
		return s.internal(c, "operator action failed", err)
	}
	s.metrics.RecordDecision(ctx, action, "ok")
	s.logger.Info("operator decision recorded",
		zap.String("action", action),
		zap.String("identity", cand.Identity),
		zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
	)
	return c.JSON(http.StatusOK, cand)
}

// handleConsensus answers ?window= as a Go duration; empty uses the default.
func (s *Server) handleConsensus(c echo.Context) error {
	if s.deps.Consensus == nil {
		return unavailable()
	}
	var window time.Duration
	if raw := c.QueryParam("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "window must be a positive duration such as 48h")
		}
		window = d
	}

	topic := c.Param("topic")
	sigs, err := s.deps.Consensus.Detect(c.Request().Context(), topic, window)
	switch {
	case errors.Is(err, consensus.ErrEmptyTopic):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		return s.internal(c, "consensus detection failed", err)
	}
	if sigs == nil {
		sigs = []consensus.Signal{}
	}
	return c.JSON(http.StatusOK, ConsensusResponse{Topic: topic, Signals: sigs})
}

// handleShift answers ?days= as a positive integer; empty uses the default.
func (s *Server) handleShift(c echo.Context) error {
	if s.deps.Consensus == nil {
		return unavailable()
	}
	days := 0
	if raw := c.QueryParam("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "days must be a positive integer")
		}
		days = n
	}

	topic := c.Param("topic")
	shift, err := s.deps.Consensus.DetectShift(c.Request().Context(), topic, days)
	switch {
	case errors.Is(err, consensus.ErrEmptyTopic):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		return s.internal(c, "shift detection failed", err)
	}
	return c.JSON(http.StatusOK, ShiftResponse{Topic: topic, Shift: shift})
}

// handleRunLoop runs one scheduled job now, on the request goroutine, and
// answers with the loop's status afterwards. A failed run is still a 200; the
// failure is in LastError.
func (s *Server) handleRunLoop(c echo.Context) error {
	if s.deps.Loops == nil {
		return unavailable()
	}
	name := c.Param("name")
	err := s.deps.Loops.RunNow(c.Request().Context(), name)
	if errors.Is(err, scheduler.ErrUnknownJob) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	s.logger.Info("loop run requested by operator",
		zap.String("job.name", name),
		zap.Bool("failed", err != nil),
		zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
	)
	for _, l := range s.deps.Loops.Status() {
		if l.Name == name {
			return c.JSON(http.StatusOK, l)
		}
	}
	return s.internal(c, "loop status missing after run", fmt.Errorf("job %q", name))
}

func (s *Server) internal(c echo.Context, msg string, err error) error {
	s.logger.Error(msg,
		zap.Error(err),
		zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
	)
	return echo.NewHTTPError(http.StatusInternalServerError, msg)
}

func unavailable() error {
	return echo.NewHTTPError(http.StatusServiceUnavailable, errUnavailable.Error())
}
