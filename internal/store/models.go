package store

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a Candidate.
type Status uint8

const (
	StatusSuggested Status = iota + 1
	StatusApproved
	StatusRejected
	StatusPruned
)

var statusNames = map[Status]string{
	StatusSuggested: "suggested",
	StatusApproved:  "approved",
	StatusRejected:  "rejected",
	StatusPruned:    "pruned",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Valid reports whether s is one of the declared statuses.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// MarshalText implements encoding.TextMarshaler. The zero value encodes as
// an empty string.
func (s Status) MarshalText() ([]byte, error) {
	if s == 0 {
		return []byte{}, nil
	}
	if !s.Valid() {
		return nil, fmt.Errorf("invalid status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*s = 0
		return nil
	}
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStatus parses a status name.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if strings.EqualFold(n, name) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

// Category is the fixed set of labels the classification oracle may assign.
type Category uint8

const (
	CategoryGeneral Category = iota + 1
	CategoryAnalyst
	CategoryTrader
	CategoryNews
	CategoryDeveloper
	CategoryInstitution
)

var categoryNames = map[Category]string{
	CategoryGeneral:     "general",
	CategoryAnalyst:     "analyst",
	CategoryTrader:      "trader",
	CategoryNews:        "news",
	CategoryDeveloper:   "developer",
	CategoryInstitution: "institution",
}

// Categories lists every category in declaration order.
func Categories() []Category {
	return []Category{CategoryGeneral, CategoryAnalyst, CategoryTrader, CategoryNews, CategoryDeveloper, CategoryInstitution}
}

func (c Category) String() string {
	if n, ok := categoryNames[c]; ok {
		return n
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// Valid reports whether c is one of the declared categories.
func (c Category) Valid() bool {
	_, ok := categoryNames[c]
	return ok
}

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) {
	if c == 0 {
		return []byte{}, nil
	}
	if !c.Valid() {
		return nil, fmt.Errorf("invalid category %d", uint8(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*c = 0
		return nil
	}
	v, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ParseCategory parses a category name, case-insensitively.
func ParseCategory(name string) (Category, error) {
	name = strings.TrimSpace(name)
	for c, n := range categoryNames {
		if strings.EqualFold(n, name) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown category %q", name)
}

// Sentiment is the directional label of an observation.
type Sentiment uint8

const (
	SentimentNeutral Sentiment = iota + 1
	SentimentBullish
	SentimentBearish
)

var sentimentNames = map[Sentiment]string{
	SentimentNeutral: "neutral",
	SentimentBullish: "bullish",
	SentimentBearish: "bearish",
}

// Sentiments lists every sentiment label.
func Sentiments() []Sentiment {
	return []Sentiment{SentimentBullish, SentimentBearish, SentimentNeutral}
}

func (s Sentiment) String() string {
	if n, ok := sentimentNames[s]; ok {
		return n
	}
	return fmt.Sprintf("sentiment(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Sentiment) MarshalText() ([]byte, error) {
	if s == 0 {
		return []byte{}, nil
	}
	if _, ok := sentimentNames[s]; !ok {
		return nil, fmt.Errorf("invalid sentiment %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Sentiment) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*s = 0
		return nil
	}
	for v, n := range sentimentNames {
		if strings.EqualFold(n, string(b)) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown sentiment %q", b)
}

// Candidate is an external identity under evaluation for the trusted set.
type Candidate struct {
	Identity          string    `json:"identity"`
	Score             float64   `json:"score"`
	Category          Category  `json:"category"`
	ConfirmationCount int       `json:"confirmation_count"`
	Status            Status    `json:"status"`
	Reason            string    `json:"reason,omitempty"`
	FirstSeen         time.Time `json:"first_seen"`
	LastSeen          time.Time `json:"last_seen"`
	UpdatedAt         time.Time `json:"updated_at"`
	// LastReferencedAt is the newest supporting post counted toward a
	// confirmation. Only posts after it confirm again.
	LastReferencedAt time.Time `json:"last_referenced_at,omitempty"`
	// RejectedAt is set by an operator rejection and survives pruning so a
	// rejected identity is never suggested again.
	RejectedAt time.Time `json:"rejected_at,omitempty"`
	PrunedAt   time.Time `json:"pruned_at,omitempty"`
}

// EverRejected reports whether an operator has rejected the identity.
func (c Candidate) EverRejected() bool {
	return !c.RejectedAt.IsZero()
}

// NeutralCredibility is the trust assumed for an identity with no earned
// score: no record yet, or approved without a discovery score.
const NeutralCredibility = 50.0

// CredibilityRecord tracks how much an identity's output is trusted.
type CredibilityRecord struct {
	Identity    string    `json:"identity"`
	Score       float64   `json:"score"`
	Category    Category  `json:"category"`
	Samples     int       `json:"samples"`
	LastUpdated time.Time `json:"last_updated"`
}

// Engagement counts reactions to an observation.
type Engagement struct {
	Likes   int `json:"likes"`
	Reposts int `json:"reposts"`
	Replies int `json:"replies"`
}

// Total returns the sum of all reactions.
func (e Engagement) Total() int {
	return e.Likes + e.Reposts + e.Replies
}

// Observation is one post by an identity.
type Observation struct {
	ID         string     `json:"id"`
	Author     string     `json:"author"`
	Text       string     `json:"text"`
	Topics     []string   `json:"topics,omitempty"`
	References []string   `json:"references,omitempty"`
	Sentiment  Sentiment  `json:"sentiment"`
	Engagement Engagement `json:"engagement"`
	ObservedAt time.Time  `json:"observed_at"`
	Source     string     `json:"source,omitempty"`
}

// HasTopic reports whether the observation mentions topic (case-insensitive).
func (o Observation) HasTopic(topic string) bool {
	for _, t := range o.Topics {
		if strings.EqualFold(t, topic) {
			return true
		}
	}
	return false
}

// Snapshot is the persisted sentiment picture of a topic at one time.
type Snapshot struct {
	Topic        string        `json:"topic"`
	TakenAt      time.Time     `json:"taken_at"`
	Window       time.Duration `json:"window"`
	Observations int           `json:"observations"`
	Identities   int           `json:"identities"`
	BullishPct   float64       `json:"bullish_pct"`
	BearishPct   float64       `json:"bearish_pct"`
	NeutralPct   float64       `json:"neutral_pct"`
}

// DiscoveryRun is the counts-only log line of one discovery cycle.
type DiscoveryRun struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Referenced int       `json:"referenced"`
	Scored     int       `json:"scored"`
	Kept       int       `json:"kept"`
	New        int       `json:"new"`
	Confirmed  int       `json:"confirmed"`
	Promoted   int       `json:"promoted"`
	Pruned     int       `json:"pruned"`
	Purged     int       `json:"purged"`
	Failures   int       `json:"failures"`
	Error      string    `json:"error,omitempty"`
}

// NormalizeIdentity lower-cases a handle and strips a leading '@'.
func NormalizeIdentity(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@"))
}
