package intent

import (
	"regexp"
	"strings"
)

// goodbyePatterns match caller speech that ends the call before the model runs.
var goodbyePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bgood\s*-?\s*bye\b`),
	regexp.MustCompile(`(?i)^\s*(ok(ay)?\s+)?bye(\s+bye)?\W*$`),
	regexp.MustCompile(`(?i)\bthat'?s\s+all\b`),
	regexp.MustCompile(`(?i)\bthank\s*(you|s)\b.*\bbye\b`),
	regexp.MustCompile(`(?i)\bhang\s+up\b`),
}

// IsGoodbye reports whether the caller is ending the call.
func IsGoodbye(speech string) bool {
	speech = strings.TrimSpace(speech)
	if speech == "" {
		return false
	}
	for _, pat := range goodbyePatterns {
		if pat.MatchString(speech) {
			return true
		}
	}
	return false
}
