package ingest

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/signald/internal/store"
	"github.com/google/uuid"
)

// observationNamespace seeds deterministic observation IDs.
var observationNamespace = uuid.MustParse("6c1f6b7e-5d1a-4c55-9a43-2f3e2b1d8a90")

var (
	mentionPattern = regexp.MustCompile(`(?:^|[^\w@])@([A-Za-z0-9_]{1,30})\b`)
	cashtagPattern = regexp.MustCompile(`(?:^|[^\w$])\$([A-Za-z][A-Za-z0-9]{1,9})\b`)
	hashtagPattern = regexp.MustCompile(`(?:^|[^\w#])#([A-Za-z][A-Za-z0-9_]{1,49})\b`)
)

// ObservationID derives a stable ID so re-polling the same post is an upsert.
func ObservationID(author string, at time.Time, text string) string {
	key := author + "\x00" + strconv.FormatInt(at.UnixNano(), 10) + "\x00" + text
	return uuid.NewSHA1(observationNamespace, []byte(key)).String()
}

// References returns the distinct @mentions in text, normalized, excluding self.
func References(text, self string) []string {
	self = store.NormalizeIdentity(self)
	return distinct(mentionPattern.FindAllStringSubmatch(text, -1), func(s string) (string, bool) {
		id := store.NormalizeIdentity(s)
		return id, id != self
	})
}

// Topics returns the distinct $cashtags and #hashtags in text, lower-cased.
func Topics(text string) []string {
	matches := append(cashtagPattern.FindAllStringSubmatch(text, -1), hashtagPattern.FindAllStringSubmatch(text, -1)...)
	return distinct(matches, func(s string) (string, bool) {
		return strings.ToLower(s), true
	})
}

func distinct(matches [][]string, norm func(string) (string, bool)) []string {
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		v, ok := norm(m[1])
		if !ok || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
