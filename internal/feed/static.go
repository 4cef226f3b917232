package feed

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/fyrsmithlabs/signald/internal/retry"
)

// Static serves canned posts and profiles. It is safe for concurrent use and
// is meant for tests and offline runs.
type Static struct {
	mu       sync.Mutex
	posts    map[string][]Post
	profiles map[string]Profile
	errs     map[string]error
	calls    map[string]int
}

// NewStatic creates an empty static source.
func NewStatic() *Static {
	return &Static{
		posts:    make(map[string][]Post),
		profiles: make(map[string]Profile),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
	}
}

// SetPosts replaces the posts of identity.
func (s *Static) SetPosts(identity string, posts ...Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[identity] = slices.Clone(posts)
}

// SetProfile replaces the profile of identity.
func (s *Static) SetProfile(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.Identity] = p
}

// FailWith makes every fetch for identity return err. A nil err clears it.
func (s *Static) FailWith(identity string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, identity)
		return
	}
	s.errs[identity] = err
}

// Calls returns how many fetches were made for identity.
func (s *Static) Calls(identity string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[identity]
}

func (s *Static) FetchRecent(ctx context.Context, identity string) ([]Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[identity]++
	if err := s.errs[identity]; err != nil {
		return nil, err
	}
	posts, ok := s.posts[identity]
	if !ok {
		return nil, retry.Permanent(fmt.Errorf("%w: %s", ErrUnknownIdentity, identity))
	}
	return slices.Clone(posts), nil
}

func (s *Static) FetchProfile(ctx context.Context, identity string) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[identity]++
	if err := s.errs[identity]; err != nil {
		return Profile{}, err
	}
	p, ok := s.profiles[identity]
	if !ok {
		return Profile{}, retry.Permanent(fmt.Errorf("%w: %s", ErrUnknownIdentity, identity))
	}
	return p, nil
}
