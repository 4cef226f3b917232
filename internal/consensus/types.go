package consensus

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/signald/internal/store"
)

// Confidence is the tier of a consensus signal.
type Confidence uint8

const (
	ConfidenceLow Confidence = iota + 1
	ConfidenceMedium
	ConfidenceHigh
)

var confidenceNames = map[Confidence]string{
	ConfidenceLow:    "LOW",
	ConfidenceMedium: "MEDIUM",
	ConfidenceHigh:   "HIGH",
}

func (c Confidence) String() string {
	if n, ok := confidenceNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Confidence(%d)", uint8(c))
}

func (c Confidence) MarshalText() ([]byte, error) { return marshalName(confidenceNames, c) }

func (c *Confidence) UnmarshalText(b []byte) error { return unmarshalName(confidenceNames, c, b) }

// Momentum is the direction of discussion volume inside the window.
type Momentum uint8

const (
	MomentumStable Momentum = iota + 1
	MomentumIncreasing
	MomentumDecreasing
)

var momentumNames = map[Momentum]string{
	MomentumStable:     "stable",
	MomentumIncreasing: "increasing",
	MomentumDecreasing: "decreasing",
}

func (m Momentum) String() string {
	if n, ok := momentumNames[m]; ok {
		return n
	}
	return fmt.Sprintf("Momentum(%d)", uint8(m))
}

func (m Momentum) MarshalText() ([]byte, error) { return marshalName(momentumNames, m) }

func (m *Momentum) UnmarshalText(b []byte) error { return unmarshalName(momentumNames, m, b) }

// ShiftKind classifies a narrative shift.
type ShiftKind uint8

const (
	ShiftConsolidation ShiftKind = iota + 1
	ShiftAcceleration
	// ShiftBullishToBearish is a reversal from bullish to bearish.
	ShiftBullishToBearish
	// ShiftBearishToBullish is a reversal from bearish to bullish.
	ShiftBearishToBullish
)

var shiftNames = map[ShiftKind]string{
	ShiftConsolidation:    "consolidation",
	ShiftAcceleration:     "acceleration",
	ShiftBullishToBearish: "reversal_bullish_to_bearish",
	ShiftBearishToBullish: "reversal_bearish_to_bullish",
}

func (k ShiftKind) String() string {
	if n, ok := shiftNames[k]; ok {
		return n
	}
	return fmt.Sprintf("ShiftKind(%d)", uint8(k))
}

func (k ShiftKind) MarshalText() ([]byte, error) { return marshalName(shiftNames, k) }

func (k *ShiftKind) UnmarshalText(b []byte) error { return unmarshalName(shiftNames, k, b) }

// Severity grades the magnitude of a shift.
type Severity uint8

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
)

var severityNames = map[Severity]string{
	SeverityLow:    "LOW",
	SeverityMedium: "MEDIUM",
	SeverityHigh:   "HIGH",
}

func (s Severity) String() string {
	if n, ok := severityNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Severity(%d)", uint8(s))
}

func (s Severity) MarshalText() ([]byte, error) { return marshalName(severityNames, s) }

func (s *Severity) UnmarshalText(b []byte) error { return unmarshalName(severityNames, s, b) }

func marshalName[T comparable](names map[T]string, v T) ([]byte, error) {
	var zero T
	if v == zero {
		return []byte{}, nil
	}
	n, ok := names[v]
	if !ok {
		return nil, fmt.Errorf("invalid value %v", v)
	}
	return []byte(n), nil
}

func unmarshalName[T comparable](names map[T]string, dst *T, b []byte) error {
	if len(b) == 0 {
		var zero T
		*dst = zero
		return nil
	}
	for v, n := range names {
		if n == string(b) {
			*dst = v
			return nil
		}
	}
	return fmt.Errorf("unknown value %q", b)
}

// Distribution is the percentage of observations per sentiment label.
type Distribution struct {
	Bullish float64 `json:"bullish"`
	Bearish float64 `json:"bearish"`
	Neutral float64 `json:"neutral"`
}

// Signal is a read-time projection of broad agreement on a topic. It is
// never persisted.
type Signal struct {
	Topic              string        `json:"topic"`
	Window             time.Duration `json:"window"`
	AgreeingIdentities []string      `json:"agreeing_identities"`
	Count              int           `json:"count"`
	Observations       int           `json:"observations"`
	AvgCredibility     float64       `json:"avg_credibility"`
	Confidence         Confidence    `json:"confidence"`
	Momentum           Momentum      `json:"momentum"`
	Sentiment          Distribution  `json:"sentiment"`
	ComputedAt         time.Time     `json:"computed_at"`
}

// Reversal is one identity whose sentiment label flipped inside the
// lookback window.
type Reversal struct {
	Identity    string          `json:"identity"`
	From        store.Sentiment `json:"from"`
	To          store.Sentiment `json:"to"`
	Credibility float64         `json:"credibility"`
}

// Shift compares a fresh snapshot against one taken at least the lookback
// earlier.
type Shift struct {
	Topic         string         `json:"topic"`
	Kind          ShiftKind      `json:"kind"`
	Severity      Severity       `json:"severity"`
	BullishChange float64        `json:"bullish_change"`
	Previous      store.Snapshot `json:"previous"`
	Current       store.Snapshot `json:"current"`
	Reversals     []Reversal     `json:"reversals"`
	Confidence    float64        `json:"confidence"`
}
