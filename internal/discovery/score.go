package discovery

import (
	"math"
	"time"

	"github.com/fyrsmithlabs/signald/internal/feed"
)

// Point ranges of each independent signal. They sum to 100.
const (
	maxReferencePoints  = 30.0
	maxReachPoints      = 25.0
	verifiedPoints      = 15.0
	maxLongevityPoints  = 15.0
	maxEngagementPoints = 15.0

	fullLongevity = 365 * 24 * time.Hour
)

// Signals are the raw inputs to a candidate score.
type Signals struct {
	// Mentions counts references across all approved identities.
	Mentions int
	// Referrers counts distinct approved identities that made them.
	Referrers int
	Profile   feed.Profile
	// AvgEngagement is the mean reaction count of the referencing posts.
	AvgEngagement float64
}

// Breakdown is the per-signal contribution to a score.
type Breakdown struct {
	References float64 `json:"references"`
	Reach      float64 `json:"reach"`
	Verified   float64 `json:"verified"`
	Longevity  float64 `json:"longevity"`
	Engagement float64 `json:"engagement"`
}

// Total sums the breakdown, capped at 100.
func (b Breakdown) Total() float64 {
	return math.Min(100, b.References+b.Reach+b.Verified+b.Longevity+b.Engagement)
}

// Score computes the weighted score of a referenced identity at now.
func Score(s Signals, now time.Time) Breakdown {
	var b Breakdown

	// Independent referrers weigh more than repeated mentions by one referrer.
	extra := s.Mentions - s.Referrers
	if extra < 0 {
		extra = 0
	}
	b.References = math.Min(maxReferencePoints, 10*float64(s.Referrers)+2*float64(extra))

	if s.Profile.Followers > 0 {
		// 100k followers earns the full range.
		b.Reach = clamp(math.Log10(float64(s.Profile.Followers))*5, 0, maxReachPoints)
	}

	if s.Profile.Verified {
		b.Verified = verifiedPoints
	}

	if !s.Profile.CreatedAt.IsZero() && now.After(s.Profile.CreatedAt) {
		age := now.Sub(s.Profile.CreatedAt)
		b.Longevity = clamp(maxLongevityPoints*float64(age)/float64(fullLongevity), 0, maxLongevityPoints)
	}

	if s.AvgEngagement > 0 {
		// An average of 100 reactions earns the full range.
		b.Engagement = clamp(math.Log10(1+s.AvgEngagement)*7.5, 0, maxEngagementPoints)
	}
	return b
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
