package http

import (
	"github.com/fyrsmithlabs/signald/internal/breaker"
	"github.com/fyrsmithlabs/signald/internal/consensus"
	"github.com/fyrsmithlabs/signald/internal/governor"
	"github.com/fyrsmithlabs/signald/internal/scheduler"
	"github.com/fyrsmithlabs/signald/internal/store"
	"github.com/fyrsmithlabs/signald/internal/telemetry"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// Section is one independently built part of the status response.
type Section[T any] struct {
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
	Data      T      `json:"data,omitempty"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	// Status is "ok", or "degraded" when a section is unavailable, a
	// circuit is not closed or telemetry export is failing. Telemetry is
	// optional and never degrades the status by being absent.
	Status    string                             `json:"status"`
	Quotas    Section[[]governor.ResourceStatus] `json:"quotas"`
	Circuits  Section[[]breaker.Snapshot]        `json:"circuits"`
	Loops     Section[[]scheduler.LoopStatus]    `json:"loops"`
	Telemetry Section[telemetry.HealthStatus]    `json:"telemetry"`
}

// CandidatesResponse is the response body for GET /api/v1/candidates.
type CandidatesResponse struct {
	Candidates []store.Candidate `json:"candidates"`
	Count      int               `json:"count"`
}

// DecisionRequest is the optional body of approve and reject.
type DecisionRequest struct {
	Reason string `json:"reason"`
}

// ConsensusResponse is the response body for GET /api/v1/consensus/:topic.
type ConsensusResponse struct {
	Topic   string             `json:"topic"`
	Signals []consensus.Signal `json:"signals"`
}

// ShiftResponse is the response body for GET /api/v1/consensus/:topic/shift.
// Shift is null when there was nothing to compare.
type ShiftResponse struct {
	Topic string           `json:"topic"`
	Shift *consensus.Shift `json:"shift"`
}

// ErrorResponse is the body of every error answer.
type ErrorResponse struct {
	Message string `json:"message"`
}
