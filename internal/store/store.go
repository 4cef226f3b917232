// Package store defines the record types shared by the pipelines and the
// Store collaborator that persists them.
//
// Two implementations are provided: Memory for tests and single-process
// runs, and SQLite for durable state. Neither offers transactions across
// collections; callers tolerate eventually consistent reads.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by single-record getters.
var ErrNotFound = errors.New("record not found")

// CandidateFilter selects candidates. Empty fields match everything.
type CandidateFilter struct {
	Statuses   []Status
	Identities []string
}

// ObservationFilter selects observations. Zero fields match everything.
// Since is inclusive and Until is exclusive.
type ObservationFilter struct {
	Authors []string
	Topic   string
	Since   time.Time
	Until   time.Time
	Limit   int
}

// Store persists candidates, credibility, observations, topic snapshots and
// the discovery run log. Query results are ordered: candidates by identity,
// observations by ObservedAt ascending, runs newest first.
type Store interface {
	UpsertCandidate(ctx context.Context, c Candidate) error
	GetCandidate(ctx context.Context, identity string) (Candidate, error)
	ListCandidates(ctx context.Context, f CandidateFilter) ([]Candidate, error)
	DeleteCandidates(ctx context.Context, identities []string) (int, error)

	UpsertCredibility(ctx context.Context, r CredibilityRecord) error
	GetCredibility(ctx context.Context, identity string) (CredibilityRecord, error)
	ListCredibility(ctx context.Context, identities []string) ([]CredibilityRecord, error)

	UpsertObservations(ctx context.Context, obs []Observation) error
	QueryObservations(ctx context.Context, f ObservationFilter) ([]Observation, error)
	DeleteObservationsBefore(ctx context.Context, before time.Time) (int, error)

	SaveSnapshot(ctx context.Context, s Snapshot) error
	// LatestSnapshot returns the newest snapshot of topic taken at or before notAfter.
	LatestSnapshot(ctx context.Context, topic string, notAfter time.Time) (Snapshot, error)

	AppendRun(ctx context.Context, r DiscoveryRun) error
	RecentRuns(ctx context.Context, limit int) ([]DiscoveryRun, error)

	Close() error
}

func (f CandidateFilter) matches(c Candidate) bool {
	if len(f.Statuses) > 0 && !contains(f.Statuses, c.Status) {
		return false
	}
	if len(f.Identities) > 0 && !contains(f.Identities, c.Identity) {
		return false
	}
	return true
}

func (f ObservationFilter) matches(o Observation) bool {
	if len(f.Authors) > 0 && !contains(f.Authors, o.Author) {
		return false
	}
	if !f.Since.IsZero() && o.ObservedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !o.ObservedAt.Before(f.Until) {
		return false
	}
	if f.Topic != "" && !o.HasTopic(f.Topic) {
		return false
	}
	return true
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
