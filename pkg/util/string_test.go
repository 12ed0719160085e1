package util

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatCount(t *testing.T) {
	assert.Equal(t, "950", FormatCount(950))
	assert.Equal(t, "12.3K", FormatCount(12_345))
	assert.Equal(t, "1.2M", FormatCount(1_200_000))
}

func TestAgo(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "now", Ago(now, now))
	assert.Equal(t, "45m", Ago(now.Add(-45*time.Minute), now))
	assert.Equal(t, "3h", Ago(now.Add(-3*time.Hour), now))
	assert.Equal(t, "2d", Ago(now.Add(-49*time.Hour), now))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcd…", Truncate("abcdefgh", 5))
	assert.Equal(t, "", Truncate("abc", 0))
}

func TestTrimToWord(t *testing.T) {
	s := strings.Repeat("word ", 70)
	out := TrimToWord(s, 280)
	assert.LessOrEqual(t, CharCount(out), 280)
	assert.True(t, strings.HasSuffix(out, "word"))

	assert.Equal(t, "fits", TrimToWord("fits", 280))
}

func TestCleanGenerated(t *testing.T) {
	in := "\"DPO skips the reward model,   but not the preference noise. #AI #LLM\""
	assert.Equal(t, "DPO skips the reward model, but not the preference noise.", CleanGenerated(in))
}

func TestEscapeHTML(t *testing.T) {
	assert.Equal(t, "a &lt;b&gt; &amp; c", EscapeHTML("a <b> & c"))
}
