package oracle

import (
	"context"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/signald/internal/store"
)

// maxTextLength truncates each text before matching to bound regex work.
const maxTextLength = 2000

// categoryRule pairs a compiled regex with the category it votes for.
type categoryRule struct {
	regex    *regexp.Regexp
	category store.Category
	weight   int
}

// Heuristic classifies with ordered keyword rules. Each text votes for every
// rule it matches; the category with the most weight wins and ties go to the
// earlier rule. Texts with no match yield CategoryGeneral.
type Heuristic struct {
	rules []*categoryRule
}

// NewHeuristic creates a classifier with the built-in rules.
func NewHeuristic() *Heuristic {
	return &Heuristic{rules: buildCategoryRules()}
}

func buildCategoryRules() []*categoryRule {
	return []*categoryRule{
		{
			regex:    regexp.MustCompile(`(?i)\b(?:breaking|reported|according\s+to|sources\s+say|headline|announced|press\s+release|exclusive)\b`),
			category: store.CategoryNews,
			weight:   3,
		},
		{
			regex:    regexp.MustCompile(`(?i)\b(?:fund|treasury|custody|etf|institutional|asset\s+manager|balance\s+sheet|filing|13f|sec\b)`),
			category: store.CategoryInstitution,
			weight:   3,
		},
		{
			regex:    regexp.MustCompile(`(?i)\b(?:long(?:ed)?|short(?:ed)?|entry|stop[\s-]?loss|take[\s-]?profit|leverage|scalp|position|tp\d?|sl)\b`),
			category: store.CategoryTrader,
			weight:   2,
		},
		{
			regex:    regexp.MustCompile(`(?i)\b(?:thesis|valuation|fundamentals|on[\s-]?chain|report|research|model|analysis|chart|thread|macro)\b`),
			category: store.CategoryAnalyst,
			weight:   2,
		},
		{
			regex:    regexp.MustCompile(`(?i)\b(?:github|commit|release|sdk|api|protocol\s+upgrade|testnet|mainnet|smart\s+contract|pull\s+request|audit)\b`),
			category: store.CategoryDeveloper,
			weight:   2,
		},
	}
}

// Classify never fails for non-empty input.
func (h *Heuristic) Classify(ctx context.Context, texts []string) (store.Category, error) {
	if len(texts) == 0 {
		return 0, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	votes := make(map[store.Category]int)
	for _, t := range texts {
		if len(t) > maxTextLength {
			t = t[:maxTextLength]
		}
		for _, r := range h.rules {
			if r.regex.MatchString(t) {
				votes[r.category] += r.weight
			}
		}
	}

	best, bestVotes := store.CategoryGeneral, 0
	for _, r := range h.rules {
		if v := votes[r.category]; v > bestVotes {
			best, bestVotes = r.category, v
		}
	}
	return best, nil
}

// Sentiment labels one post with a keyword lexicon. Negations directly before
// a keyword flip it.
func Sentiment(text string) store.Sentiment {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'')
	})

	score := 0
	for i, w := range words {
		v := lexicon[w]
		if v == 0 {
			continue
		}
		if i > 0 && negations[words[i-1]] {
			v = -v
		}
		score += v
	}

	switch {
	case score > 0:
		return store.SentimentBullish
	case score < 0:
		return store.SentimentBearish
	default:
		return store.SentimentNeutral
	}
}

var lexicon = map[string]int{
	"bullish": 2, "moon": 2, "breakout": 2, "rally": 2, "accumulate": 1, "accumulating": 1,
	"buy": 1, "buying": 1, "long": 1, "pump": 1, "higher": 1, "up": 1, "strong": 1,
	"support": 1, "uptrend": 2, "ath": 2, "undervalued": 1, "green": 1,

	"bearish": -2, "crash": -2, "dump": -2, "breakdown": -2, "sell": -1, "selling": -1,
	"short": -1, "lower": -1, "down": -1, "weak": -1, "resistance": -1, "downtrend": -2,
	"overvalued": -1, "rekt": -2, "red": -1, "capitulation": -2,
}

var negations = map[string]bool{
	"not": true, "no": true, "never": true, "isn't": true, "don't": true, "won't": true,
}
