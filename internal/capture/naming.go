package capture

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Extension is the container of recorded answers.
const Extension = ".webm"

// SuggestName builds {name}_Question_{n}_{unix millis}.webm where name is
// the candidate's full name with whitespace runs collapsed to underscores.
func SuggestName(fullName string, questionNumber int, at time.Time) string {
	return fmt.Sprintf("%s_Question_%d_%d%s", sanitizeName(fullName), questionNumber, at.UnixMilli(), Extension)
}

func sanitizeName(name string) string {
	joined := strings.Join(strings.Fields(name), "_")
	var b strings.Builder
	for _, r := range joined {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.' {
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "candidate"
	}
	return out
}

// FormatElapsed renders seconds as m:ss.
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
