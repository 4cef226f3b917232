package credibility

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fyrsmithlabs/signald/internal/logging"
	"github.com/fyrsmithlabs/signald/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func post(id, author string, at time.Time, engagement int, topics ...string) store.Observation {
	return store.Observation{
		ID:         id,
		Author:     author,
		Topics:     topics,
		Engagement: store.Engagement{Likes: engagement},
		ObservedAt: at,
	}
}

func TestUpdate_EMA(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	tr := New(st, 0.1)
	alice := store.Candidate{Identity: "alice", Score: 70, Category: store.CategoryAnalyst, Status: store.StatusApproved}

	rec, err := tr.Update(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 70.0, rec.Score, "seeded from the candidate score")
	assert.Equal(t, 0, rec.Samples)
	assert.Equal(t, store.CategoryAnalyst, rec.Category)

	require.NoError(t, st.UpsertObservations(ctx, []store.Observation{
		post("a1", "alice", t0, 0, "btc"),
	}))
	rec, err = tr.Update(ctx, alice)
	require.NoError(t, err)
	assert.InDelta(t, 67.0, rec.Score, 1e-9)
	assert.Equal(t, 1, rec.Samples)
	assert.True(t, rec.LastUpdated.Equal(t0))

	// Nothing new: the score does not move.
	rec, err = tr.Update(ctx, alice)
	require.NoError(t, err)
	assert.InDelta(t, 67.0, rec.Score, 1e-9)
	assert.Equal(t, 1, rec.Samples)

	require.NoError(t, st.UpsertObservations(ctx, []store.Observation{
		post("a2", "alice", t0.Add(time.Hour), 999, "eth"),
		post("a3", "alice", t0.Add(time.Hour), 0),
	}))
	rec, err = tr.Update(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Samples, "observations sharing a timestamp are both consumed")
	// 67 -> 70.3 (sample 100) -> 63.27 (sample 0)
	assert.InDelta(t, 63.27, rec.Score, 1e-9)
}

func TestUpdate_UnscoredIdentityStartsNeutral(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	// Approved by an operator, so never scored by discovery.
	require.NoError(t, st.UpsertCandidate(ctx, store.Candidate{Identity: "dana", Status: store.StatusApproved}))

	res, err := New(st, 0.1).UpdateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	rec, err := st.GetCredibility(ctx, "dana")
	require.NoError(t, err)
	assert.Equal(t, store.NeutralCredibility, rec.Score)
	assert.Equal(t, 0, rec.Samples)
}

func TestNew_AlphaDefault(t *testing.T) {
	assert.Equal(t, DefaultAlpha, New(store.NewMemory(), 0).alpha)
	assert.Equal(t, DefaultAlpha, New(store.NewMemory(), 1.5).alpha)
	assert.Equal(t, 0.5, New(store.NewMemory(), 0.5).alpha)
}

type failingStore struct {
	store.Store
	fail string
}

func (f *failingStore) UpsertCredibility(ctx context.Context, r store.CredibilityRecord) error {
	if r.Identity == f.fail {
		return errors.New("disk full")
	}
	return f.Store.UpsertCredibility(ctx, r)
}

func TestUpdateAll(t *testing.T) {
	ctx := context.Background()
	st := &failingStore{Store: store.NewMemory(), fail: "bob"}
	for _, c := range []store.Candidate{
		{Identity: "alice", Score: 60, Status: store.StatusApproved},
		{Identity: "bob", Score: 60, Status: store.StatusApproved},
		{Identity: "carol", Score: 60, Status: store.StatusSuggested},
	} {
		require.NoError(t, st.UpsertCandidate(ctx, c))
	}
	require.NoError(t, st.UpsertObservations(ctx, []store.Observation{
		post("a1", "alice", t0, 9),
		post("a2", "alice", t0.Add(time.Minute), 9),
	}))

	tl := logging.NewTestLogger()
	tr := New(st, 0.1, WithLogger(tl.Underlying()))
	res, err := tr.UpdateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Identities: 2, Updated: 1, Failed: 1, Observations: 2}, res)
	tl.AssertLogged(t, zapcore.WarnLevel, "credibility update failed")

	_, err = st.GetCredibility(ctx, "carol")
	assert.ErrorIs(t, err, store.ErrNotFound, "only approved identities are tracked")
}

func TestSample(t *testing.T) {
	tests := []struct {
		name string
		obs  store.Observation
		want float64
	}{
		{"nothing", store.Observation{}, 0},
		{"topical only", store.Observation{Topics: []string{"btc"}}, 40},
		{"some engagement", store.Observation{Engagement: store.Engagement{Likes: 5, Replies: 4}}, 20},
		{"engagement capped", store.Observation{Engagement: store.Engagement{Reposts: 5000000}}, 60},
		{"full", store.Observation{Topics: []string{"eth"}, Engagement: store.Engagement{Likes: 999}}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Sample(tt.obs), 1e-9)
		})
	}
}
