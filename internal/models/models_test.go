package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringArrayScan(t *testing.T) {
	var s StringArray
	require.NoError(t, s.Scan(`["rlhf","agentic ai"]`))
	assert.Equal(t, StringArray{"rlhf", "agentic ai"}, s)

	require.NoError(t, s.Scan(nil))
	assert.Empty(t, s)

	assert.Error(t, s.Scan(42))
}

func TestStringArrayValue(t *testing.T) {
	v, err := StringArray{`say "hi"`}.Value()
	require.NoError(t, err)
	assert.Equal(t, `["say \"hi\""]`, v)

	v, err = StringArray(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)
}

func TestDraftStatus(t *testing.T) {
	assert.True(t, DraftEdited.Approved())
	assert.False(t, DraftPending.Approved())
	assert.True(t, DraftExpired.Terminal())
	assert.False(t, DraftApprovedB.Terminal())
}

func TestApprovedText(t *testing.T) {
	d := &Draft{TextA: "a", TextB: "b", EditedText: "mine"}

	d.Status = DraftApprovedB
	assert.Equal(t, "b", d.ApprovedText())
	d.Status = DraftEdited
	assert.Equal(t, "mine", d.ApprovedText())
	d.Status = DraftSkipped
	assert.Empty(t, d.ApprovedText())
}

func TestWatchedAccountDue(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	checked := now.Add(-3 * time.Hour)

	a := &WatchedAccount{Handle: "karpathy", Priority: PriorityHigh, CheckEveryHours: 4}
	assert.True(t, a.Due(now))

	a.LastCheckedAt = &checked
	assert.False(t, a.Due(now))
	assert.True(t, a.Due(now.Add(time.Hour)))
	assert.Equal(t, 3.0, a.PriorityBoost())
}

func TestRecencyTime(t *testing.T) {
	discovered := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &Post{DiscoveredAt: discovered}
	assert.Equal(t, discovered, p.RecencyTime())

	posted := discovered.Add(-time.Hour)
	p.PostedAt = &posted
	assert.Equal(t, posted, p.RecencyTime())
}
