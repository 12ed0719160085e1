package util

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// FormatCount renders large counts the way social apps do: 950, 12.3K, 1.2M
func FormatCount(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// Ago renders the time elapsed since t in a compact form: 45m, 3h, 2d
func Ago(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// Truncate shortens s to at most n runes, adding an ellipsis when something was cut
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n-1])) + "…"
}

// TrimToWord cuts s to at most n runes at the last word boundary
func TrimToWord(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)[:n]
	cut := string(runes)
	if i := strings.LastIndexAny(cut, " \n\t"); i > n/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " \n\t,;:-")
}

// EscapeHTML escapes text for Telegram's HTML parse mode
func EscapeHTML(s string) string {
	return html.EscapeString(s)
}

var hashtagPattern = regexp.MustCompile(`(^|\s)#\w+`)

// CleanGenerated strips wrapping quotes and hashtags that models tend to add
func CleanGenerated(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"“”'")
	s = hashtagPattern.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// CharCount is the length a platform sees for s
func CharCount(s string) int {
	return utf8.RuneCountInString(s)
}
