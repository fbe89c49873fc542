package domain

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ulidBody matches the 26 Crockford base32 characters of a ULID. The
// alphabet has no I, L, O or U, which keeps references distinguishable from
// surrounding narration text and survives banking apps that uppercase or
// strip punctuation.
const ulidBody = "[0-9A-HJKMNP-TV-Z]{26}"

var (
	patternMu sync.Mutex
	patterns  = map[string]*regexp.Regexp{}
)

// NewReference builds a transaction reference from the configured prefix and
// a ULID stamped at the given instant. ULIDs are time-ordered with 80 bits
// of entropy, so references stay collision-free without coordination.
func NewReference(prefix string, now time.Time) string {
	return prefix + ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

// ExtractReference recovers a transaction reference from free-text
// narration. The text is uppercased first so reformatting by the payer's
// banking app does not hide the match.
func ExtractReference(prefix string, narration string) (string, bool) {
	if prefix == "" || narration == "" {
		return "", false
	}
	match := referencePattern(prefix).FindString(strings.ToUpper(narration))
	if match == "" {
		return "", false
	}
	return match, true
}

func referencePattern(prefix string) *regexp.Regexp {
	patternMu.Lock()
	defer patternMu.Unlock()

	if re, ok := patterns[prefix]; ok {
		return re
	}
	re := regexp.MustCompile(regexp.QuoteMeta(strings.ToUpper(prefix)) + ulidBody)
	patterns[prefix] = re
	return re
}
