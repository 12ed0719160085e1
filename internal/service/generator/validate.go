package generator

import (
	"fmt"
	"strings"

	"github.com/ifuryst/riposte/pkg/util"
)

var genericOpeners = []string{
	"great post", "thanks for sharing", "interesting perspective",
	"i agree with", "this is important", "well said", "totally agree",
	"love this", "so true", "100%",
}

// Validate lists the reasons a reply would read poorly. An empty result means it looks fine.
// Issues are advisory; the approver still sees the text.
func Validate(text string, maxChars int) []string {
	var issues []string

	n := util.CharCount(text)
	minChars := maxChars * 15 / 28
	if n < minChars {
		issues = append(issues, fmt.Sprintf("too short (%d chars, want %d-%d)", n, minChars, maxChars))
	}
	if n > maxChars {
		issues = append(issues, fmt.Sprintf("over limit (%d/%d chars)", n, maxChars))
	}

	lower := strings.ToLower(text)
	for _, phrase := range genericOpeners {
		if strings.Contains(lower, phrase) {
			issues = append(issues, fmt.Sprintf("generic opener %q", phrase))
			break
		}
	}
	return issues
}
