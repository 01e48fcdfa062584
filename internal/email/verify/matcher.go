package verify

import (
	"bytes"
	"mime"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-message/charset"
)

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// Candidate is one mailbox message considered for matching.
type Candidate struct {
	UID     uint32
	Date    time.Time
	Subject string
	Raw     []byte
}

// Matches reports whether the candidate is the verification email for testID.
// Any single heuristic is sufficient.
func Matches(c Candidate, testID string) bool {
	if testID == "" {
		return false
	}
	subject := decodeSubject(c.Subject)
	if strings.Contains(subject, testID) {
		return true
	}
	if bytes.Contains(c.Raw, []byte(testID)) {
		return true
	}
	return strings.Contains(subject, MarkerPhrase) && strings.Contains(subject, "["+testID+"]")
}

// FindMatch scans candidates most-recent first and returns the first match.
// The input slice is not reordered.
func FindMatch(candidates []Candidate, testID string) (Candidate, bool) {
	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Date.After(ordered[j].Date)
	})
	for _, c := range ordered {
		if Matches(c, testID) {
			return c, true
		}
	}
	return Candidate{}, false
}

func decodeSubject(subject string) string {
	if !strings.Contains(subject, "=?") {
		return subject
	}
	decoded, err := wordDecoder.DecodeHeader(subject)
	if err != nil {
		return subject
	}
	return decoded
}
