// Package feed fetches recent posts and profile facts for external identities.
package feed

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/signald/internal/store"
)

// ErrUnknownIdentity is returned when the upstream has no feed for an identity.
var ErrUnknownIdentity = errors.New("unknown identity")

// Post is one item of an identity's feed.
type Post struct {
	ID          string
	Text        string
	URL         string
	PublishedAt time.Time
	Engagement  store.Engagement
}

// Profile holds the account facts discovery scores on. Zero values mean
// "unknown" and earn no points.
type Profile struct {
	Identity  string    `json:"identity"`
	Followers int       `json:"followers"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
}

// Source is the feed collaborator. Implementations may fail transiently;
// permanent failures are wrapped with retry.Permanent.
type Source interface {
	// FetchRecent returns posts ordered oldest first.
	FetchRecent(ctx context.Context, identity string) ([]Post, error)
	FetchProfile(ctx context.Context, identity string) (Profile, error)
}
