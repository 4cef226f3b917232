package store

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// memoryRunLimit bounds the in-memory run log; older runs are dropped.
const memoryRunLimit = 500

// Memory is an in-process Store. Records are copied on the way in and out so
// callers never share slices with the store.
type Memory struct {
	mu           sync.RWMutex
	candidates   map[string]Candidate
	credibility  map[string]CredibilityRecord
	observations map[string]Observation
	snapshots    map[string][]Snapshot
	runs         []DiscoveryRun
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		candidates:   make(map[string]Candidate),
		credibility:  make(map[string]CredibilityRecord),
		observations: make(map[string]Observation),
		snapshots:    make(map[string][]Snapshot),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) UpsertCandidate(ctx context.Context, c Candidate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates[c.Identity] = c
	return nil
}

func (m *Memory) GetCandidate(ctx context.Context, identity string) (Candidate, error) {
	if err := ctx.Err(); err != nil {
		return Candidate{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.candidates[identity]
	if !ok {
		return Candidate{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) ListCandidates(ctx context.Context, f CandidateFilter) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Candidate, 0, len(m.candidates))
	for _, c := range m.candidates {
		if f.matches(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

func (m *Memory) DeleteCandidates(ctx context.Context, identities []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range identities {
		if _, ok := m.candidates[id]; ok {
			delete(m.candidates, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) UpsertCredibility(ctx context.Context, r CredibilityRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credibility[r.Identity] = r
	return nil
}

func (m *Memory) GetCredibility(ctx context.Context, identity string) (CredibilityRecord, error) {
	if err := ctx.Err(); err != nil {
		return CredibilityRecord{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.credibility[identity]
	if !ok {
		return CredibilityRecord{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) ListCredibility(ctx context.Context, identities []string) ([]CredibilityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []CredibilityRecord
	if len(identities) == 0 {
		out = make([]CredibilityRecord, 0, len(m.credibility))
		for _, r := range m.credibility {
			out = append(out, r)
		}
	} else {
		for _, id := range identities {
			if r, ok := m.credibility[id]; ok {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

func (m *Memory) UpsertObservations(ctx context.Context, obs []Observation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range obs {
		o.Topics = slices.Clone(o.Topics)
		o.References = slices.Clone(o.References)
		m.observations[o.ID] = o
	}
	return nil
}

func (m *Memory) QueryObservations(ctx context.Context, f ObservationFilter) ([]Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]Observation, 0)
	for _, o := range m.observations {
		if f.matches(o) {
			o.Topics = slices.Clone(o.Topics)
			o.References = slices.Clone(o.References)
			out = append(out, o)
		}
	}
	m.mu.RUnlock()

	sortObservations(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

func (m *Memory) DeleteObservationsBefore(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, o := range m.observations {
		if o.ObservedAt.Before(before) {
			delete(m.observations, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) SaveSnapshot(ctx context.Context, s Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := strings.ToLower(s.Topic)
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.snapshots[key], s)
	sort.SliceStable(list, func(i, j int) bool { return list[i].TakenAt.Before(list[j].TakenAt) })
	m.snapshots[key] = list
	return nil
}

func (m *Memory) LatestSnapshot(ctx context.Context, topic string, notAfter time.Time) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.snapshots[strings.ToLower(topic)]
	for i := len(list) - 1; i >= 0; i-- {
		if !list[i].TakenAt.After(notAfter) {
			return list[i], nil
		}
	}
	return Snapshot{}, ErrNotFound
}

func (m *Memory) AppendRun(ctx context.Context, r DiscoveryRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	if over := len(m.runs) - memoryRunLimit; over > 0 {
		m.runs = slices.Delete(m.runs, 0, over)
	}
	return nil
}

func (m *Memory) RecentRuns(ctx context.Context, limit int) ([]DiscoveryRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]DiscoveryRun, 0, len(m.runs))
	for i := len(m.runs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, m.runs[i])
	}
	return out, nil
}

// Close is a no-op kept for interface symmetry.
func (m *Memory) Close() error {
	return nil
}

func sortObservations(obs []Observation) {
	sort.Slice(obs, func(i, j int) bool {
		if obs[i].ObservedAt.Equal(obs[j].ObservedAt) {
			return obs[i].ID < obs[j].ID
		}
		return obs[i].ObservedAt.Before(obs[j].ObservedAt)
	})
}
