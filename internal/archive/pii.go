package archive

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
)

var (
	emailRe     = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneLikeRe = regexp.MustCompile(`(?:\+|\b)\d[\d\s().\-]{8,16}\d\b`)
	dateLikeRe  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
)

// HashPhone returns the hex-encoded SHA-256 hash of a phone number.
func HashPhone(phone string) string {
	h := sha256.Sum256([]byte(phone))
	return fmt.Sprintf("%x", h)
}

// ScrubPII replaces emails with [EMAIL] and phone numbers with [PHONE].
// Digit runs of 10 to 13 digits count as phone numbers; dates and
// identifiers glued to a prefix (such as appointment ids) are kept.
func ScrubPII(text string) string {
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	var b strings.Builder
	last := 0
	for _, loc := range phoneLikeRe.FindAllStringIndex(text, -1) {
		match := text[loc[0]:loc[1]]
		if !looksLikePhone(match) || (loc[0] > 0 && isIDPrefix(text[loc[0]-1])) {
			continue
		}
		b.WriteString(text[last:loc[0]])
		b.WriteString("[PHONE]")
		last = loc[1]
	}
	b.WriteString(text[last:])
	return b.String()
}

func looksLikePhone(match string) bool {
	if dateLikeRe.MatchString(match) {
		return false
	}
	digits := 0
	for _, r := range match {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 10 && digits <= 13
}

func isIDPrefix(c byte) bool {
	return c == '-' || c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// ScrubMessages applies PII scrubbing to all messages in-place.
func ScrubMessages(msgs []Message) {
	for i := range msgs {
		msgs[i].Content = ScrubPII(msgs[i].Content)
	}
}
