package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/fyrsmithlabs/signald/internal/config"
	"github.com/fyrsmithlabs/signald/internal/retry"
	"github.com/fyrsmithlabs/signald/internal/store"
	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"
)

const maxProfileBytes = 64 * 1024

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}

// RSS reads identity timelines from RSS/Atom/JSON feeds. Feed and profile
// URLs are built from templates with a single %s for the escaped identity.
type RSS struct {
	client          *http.Client
	limiter         *rate.Limiter
	feedTemplate    string
	profileTemplate string
	maxItems        int
}

// NewRSS creates a feed source from cfg.
func NewRSS(cfg config.FeedConfig) (*RSS, error) {
	if !strings.Contains(cfg.URLTemplate, "%s") {
		return nil, fmt.Errorf("feed url_template must contain %%s")
	}
	if cfg.ProfileURLTemplate != "" && !strings.Contains(cfg.ProfileURLTemplate, "%s") {
		return nil, fmt.Errorf("feed profile_url_template must contain %%s")
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RSS{
		client:          &http.Client{Timeout: timeout},
		limiter:         rate.NewLimiter(limit, burst),
		feedTemplate:    cfg.URLTemplate,
		profileTemplate: cfg.ProfileURLTemplate,
		maxItems:        cfg.MaxItems,
	}, nil
}

// FetchRecent downloads and parses the identity's feed.
func (r *RSS) FetchRecent(ctx context.Context, identity string) ([]Post, error) {
	body, err := r.get(ctx, fmt.Sprintf(r.feedTemplate, url.PathEscape(identity)))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	parsed, err := gofeed.NewParser().Parse(body)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("parse feed for %s: %w", identity, err))
	}

	posts := make([]Post, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		var pub time.Time
		if it.PublishedParsed != nil {
			pub = *it.PublishedParsed
		} else if it.UpdatedParsed != nil {
			pub = *it.UpdatedParsed
		} else {
			continue
		}

		text := strings.TrimSpace(it.Description)
		if text == "" {
			text = strings.TrimSpace(it.Content)
		}
		if text == "" {
			text = strings.TrimSpace(it.Title)
		}

		posts = append(posts, Post{
			ID:          it.GUID,
			Text:        text,
			URL:         strings.TrimSpace(it.Link),
			PublishedAt: pub.UTC(),
			Engagement:  engagementFrom(it.Custom),
		})
	}

	sort.SliceStable(posts, func(i, j int) bool { return posts[i].PublishedAt.Before(posts[j].PublishedAt) })
	if r.maxItems > 0 && len(posts) > r.maxItems {
		posts = posts[len(posts)-r.maxItems:]
	}
	return posts, nil
}

// FetchProfile reads the identity's JSON profile document.
func (r *RSS) FetchProfile(ctx context.Context, identity string) (Profile, error) {
	if r.profileTemplate == "" {
		return Profile{}, retry.Permanent(fmt.Errorf("no profile endpoint configured"))
	}
	body, err := r.get(ctx, fmt.Sprintf(r.profileTemplate, url.PathEscape(identity)))
	if err != nil {
		return Profile{}, err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxProfileBytes))
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	var p Profile
	if err := sonic.Unmarshal(data, &p); err != nil {
		return Profile{}, retry.Permanent(fmt.Errorf("decode profile for %s: %w", identity, err))
	}
	p.Identity = identity
	return p, nil
}

// get waits on the politeness limiter, then issues the request. Client
// errors other than 429 are permanent; 404 maps to ErrUnknownIdentity.
func (r *RSS) get(ctx context.Context, target string) (io.ReadCloser, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", "signald/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", target, err)
	}

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return resp.Body, nil
	case code == http.StatusNotFound || code == http.StatusGone:
		resp.Body.Close()
		return nil, retry.Permanent(fmt.Errorf("%w: %s", ErrUnknownIdentity, target))
	case code == http.StatusTooManyRequests || code >= 500:
		resp.Body.Close()
		return nil, &StatusError{URL: target, Code: code}
	default:
		resp.Body.Close()
		return nil, retry.Permanent(&StatusError{URL: target, Code: code})
	}
}

// engagementFrom reads reaction counters from non-standard item elements
// such as <likes>12</likes>.
func engagementFrom(custom map[string]string) store.Engagement {
	return store.Engagement{
		Likes:   counter(custom, "likes", "favorites"),
		Reposts: counter(custom, "reposts", "retweets", "shares"),
		Replies: counter(custom, "replies", "comments"),
	}
}

func counter(custom map[string]string, keys ...string) int {
	for _, k := range keys {
		if v, ok := custom[k]; ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}
