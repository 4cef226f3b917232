package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fyrsmithlabs/signald/internal/clock"
	"github.com/fyrsmithlabs/signald/internal/feed"
	"github.com/fyrsmithlabs/signald/internal/governor"
	"github.com/fyrsmithlabs/signald/internal/logging"
	"github.com/fyrsmithlabs/signald/internal/retry"
	"github.com/fyrsmithlabs/signald/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func approve(t *testing.T, st store.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, st.UpsertCandidate(context.Background(), store.Candidate{Identity: id, Status: store.StatusApproved}))
	}
}

func TestPoll(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	approve(t, st, "alice", "bob", "carol")
	require.NoError(t, st.UpsertCandidate(ctx, store.Candidate{Identity: "dave", Status: store.StatusSuggested}))

	src := feed.NewStatic()
	src.SetPosts("alice",
		feed.Post{Text: "$BTC breakout incoming, watching @Bob and @erin", PublishedAt: t0, Engagement: store.Engagement{Likes: 5}},
		feed.Post{Text: "#eth looks weak", PublishedAt: t0.Add(time.Hour)},
	)
	src.SetPosts("bob", feed.Post{Text: "gm", PublishedAt: t0})
	src.FailWith("carol", retry.Permanent(errors.New("suspended")))

	gov, err := governor.New([]governor.Window{{Resource: ResourceFetch, Window: time.Hour, Limit: 100}})
	require.NoError(t, err)
	exec := retry.NewExecutor(gov, nil, retry.WithDefaultPolicy(retry.Policy{MaxAttempts: 1}))

	tl := logging.NewTestLogger()
	p := NewPoller(st, src, exec, 2, tl.Underlying())

	res, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Identities: 3, Succeeded: 2, Failed: 1, Observations: 3}, res)
	assert.Equal(t, 0, src.Calls("dave"), "only approved identities are polled")
	tl.AssertLogged(t, zapcore.WarnLevel, "ingest failed for identity")

	obs, err := st.QueryObservations(ctx, store.ObservationFilter{Authors: []string{"alice"}})
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.Equal(t, []string{"btc"}, obs[0].Topics)
	assert.Equal(t, []string{"bob", "erin"}, obs[0].References)
	assert.Equal(t, store.SentimentBullish, obs[0].Sentiment)
	assert.Equal(t, 5, obs[0].Engagement.Likes)
	assert.Equal(t, []string{"eth"}, obs[1].Topics)
	assert.Equal(t, store.SentimentBearish, obs[1].Sentiment)

	st0 := gov.Status()
	require.Len(t, st0, 1)
	assert.Equal(t, 3, st0[0].Windows[0].Used, "every fetch attempt consumes quota")

	// Re-polling the same posts does not duplicate observations.
	_, err = p.Poll(ctx)
	require.NoError(t, err)
	all, err := st.QueryObservations(ctx, store.ObservationFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestPoll_Retention(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	mock.Add(1000 * 24 * time.Hour)
	now := mock.Now()

	st := store.NewMemory()
	approve(t, st, "alice")
	require.NoError(t, st.UpsertObservations(ctx, []store.Observation{
		{ID: "old", Author: "alice", Text: "$btc", ObservedAt: now.Add(-100 * 24 * time.Hour)},
		{ID: "recent", Author: "alice", Text: "$eth", ObservedAt: now.Add(-24 * time.Hour)},
	}))

	p := NewPoller(st, feed.NewStatic(), retry.NewExecutor(nil, nil), 1, nil,
		WithRetention(90*24*time.Hour), WithClock(mock))

	res, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)

	left, err := st.QueryObservations(ctx, store.ObservationFilter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "recent", left[0].ID)
}

func TestPoll_ListFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewPoller(store.NewMemory(), feed.NewStatic(), retry.NewExecutor(nil, nil), 1, nil)
	_, err := p.Poll(ctx)
	assert.Error(t, err)
}

func TestReferences(t *testing.T) {
	tests := []struct {
		text string
		self string
		want []string
	}{
		{"h/t @Bob and @bob again", "alice", []string{"bob"}},
		{"talking to myself @alice", "alice", nil},
		{"mail me at a@b.com", "x", nil},
		{"@carol: agreed", "x", []string{"carol"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, References(tt.text, tt.self), tt.text)
	}
}

func TestTopics(t *testing.T) {
	assert.Equal(t, []string{"btc", "eth", "defi"}, Topics("$BTC and $eth, #DeFi season $btc"))
	assert.Nil(t, Topics("paid $100 for #1"))
}

func TestObservationID_Deterministic(t *testing.T) {
	a := ObservationID("alice", t0, "hello")
	assert.Equal(t, a, ObservationID("alice", t0, "hello"))
	assert.NotEqual(t, a, ObservationID("alice", t0.Add(time.Second), "hello"))
	assert.NotEqual(t, a, ObservationID("bob", t0, "hello"))
}
