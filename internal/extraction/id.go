package extraction

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode"
)

// NewAppointmentID builds APT-{prefix}-{unix seconds}{1000..9999}. The prefix
// is the first four characters of the username as written, or USER. Whitespace
// is skipped because ids are read back over the phone.
func NewAppointmentID(username string, now time.Time) string {
	return fmt.Sprintf("APT-%s-%d%d", idPrefix(username), now.Unix(), randomSuffix())
}

func idPrefix(username string) string {
	var b strings.Builder
	n := 0
	for _, r := range username {
		if n == 4 {
			break
		}
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
		n++
	}
	if n == 0 {
		return "USER"
	}
	return b.String()
}

func randomSuffix() int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return 1000 + time.Now().UnixNano()%9000
	}
	return 1000 + n.Int64()
}
