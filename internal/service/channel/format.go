package channel

import (
	"fmt"
	"strings"
	"time"

	"github.com/ifuryst/riposte/internal/models"
	"github.com/ifuryst/riposte/internal/service/approval"
	"github.com/ifuryst/riposte/pkg/util"
)

const rule = "━━━━━━━━━━━━━━━━━━━━"

// FormatCard renders the approval card for a draft.
func FormatCard(req approval.DispatchRequest, now time.Time) string {
	p := req.Post
	verified := ""
	if p.AuthorVerified {
		verified = " ✓"
	}

	var b strings.Builder
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "📊 Score: %.1f  |  @%s%s (%s)  |  ⚡ %s ago\n",
		req.Score,
		util.EscapeHTML(p.AuthorHandle),
		verified,
		util.FormatCount(p.AuthorFollowers),
		util.Ago(p.RecencyTime(), now))
	fmt.Fprintf(&b, "👁 %s views · %s likes · %s replies\n\n",
		util.FormatCount(p.Views), util.FormatCount(p.Likes), util.FormatCount(p.Replies))

	b.WriteString("📝 <b>POST:</b>\n")
	b.WriteString(util.EscapeHTML(util.Truncate(p.Text, 1500)))
	b.WriteString("\n\n")

	writeOption(&b, "A · Challenge", req.TextA, req.IssuesA)
	writeOption(&b, "B · Expand", req.TextB, req.IssuesB)

	if p.URL != "" {
		fmt.Fprintf(&b, "🔗 %s\n", util.EscapeHTML(p.URL))
	}
	b.WriteString(rule)
	return b.String()
}

func writeOption(b *strings.Builder, label, text string, issues []string) {
	fmt.Fprintf(b, "<b>%s</b>  <i>(%d chars)</i>\n", label, util.CharCount(text))
	fmt.Fprintf(b, "<code>%s</code>\n", util.EscapeHTML(text))
	for _, issue := range issues {
		fmt.Fprintf(b, "⚠️ <i>%s</i>\n", util.EscapeHTML(issue))
	}
	b.WriteString("\n")
}

// CardKeyboard is the decision keyboard attached to each card.
func CardKeyboard(draftID, authorHandle string) *InlineKeyboard {
	handle := util.Truncate(authorHandle, 12)
	if handle == "" {
		handle = "?"
	}
	return &InlineKeyboard{InlineKeyboard: [][]InlineButton{
		{
			{Text: "🚀 Post A", CallbackData: callbackData(actionA, draftID)},
			{Text: "🚀 Post B", CallbackData: callbackData(actionB, draftID)},
		},
		{
			{Text: "✏️ Edit", CallbackData: callbackData(actionEdit, draftID)},
			{Text: "🔴 Skip", CallbackData: callbackData(actionSkip, draftID)},
			{Text: "➕ @" + handle, CallbackData: callbackData(actionWatch, draftID)},
		},
	}}
}

// FormatDecision is the text a card is replaced with once a decision was applied.
func FormatDecision(draft *models.Draft) string {
	url := ""
	if draft.Post != nil && draft.Post.URL != "" {
		url = "\n🔗 " + util.EscapeHTML(draft.Post.URL)
	}
	switch draft.Status {
	case models.DraftApprovedA, models.DraftApprovedB, models.DraftEdited:
		return fmt.Sprintf("🚀 <b>Posting %s...</b>%s\n\n<code>%s</code>",
			statusLabel(draft.Status), url, util.EscapeHTML(draft.ApprovedText()))
	case models.DraftSkipped:
		return "🔴 Skipped" + url
	case models.DraftExpired:
		return "⌛ Expired before a decision" + url
	default:
		return fmt.Sprintf("ℹ️ Draft is %s%s", draft.Status, url)
	}
}

// FormatAlreadyDecided answers a duplicate or late button press.
func FormatAlreadyDecided(draft *models.Draft) string {
	return fmt.Sprintf("Already %s", strings.ReplaceAll(string(draft.Status), "_", " "))
}

func FormatEditPrompt(draft *models.Draft) string {
	url := ""
	if draft.Post != nil {
		url = util.EscapeHTML(draft.Post.URL)
	}
	return fmt.Sprintf("✏️ <b>Edit mode</b>\n\nReply with your comment for:\n%s\n\nOr /cancel", url)
}

// FormatPublishResult reports a publish outcome back to the chat.
func FormatPublishResult(draft *models.Draft, result *models.PostResult) string {
	url := ""
	if draft.Post != nil && draft.Post.URL != "" {
		url = "\n🔗 " + util.EscapeHTML(draft.Post.URL)
	}
	if result.Success {
		return fmt.Sprintf("✅ <b>Posted</b> (%s)%s\n\n<code>%s</code>",
			util.EscapeHTML(result.PlatformPostID), url, util.EscapeHTML(result.PublishedText))
	}
	return fmt.Sprintf("❌ <b>Post failed</b> (%s after %d attempts)%s\n%s",
		util.EscapeHTML(result.ErrorCategory), result.Attempts, url,
		util.EscapeHTML(util.Truncate(result.ErrorMessage, 300)))
}

// FormatWatchlist groups watched accounts by priority.
func FormatWatchlist(accounts []models.WatchedAccount) string {
	groups := map[string][]string{}
	for _, a := range accounts {
		groups[a.Priority] = append(groups[a.Priority], "@"+util.EscapeHTML(a.Handle))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "👀 <b>Watchlist (%d accounts)</b>\n", len(accounts))
	for _, p := range []struct{ name, icon string }{
		{models.PriorityHigh, "🔴"},
		{models.PriorityMedium, "🟡"},
		{models.PriorityLow, "⚪"},
	} {
		if handles := groups[p.name]; len(handles) > 0 {
			fmt.Fprintf(&b, "\n%s %s: %s\n", p.icon, p.name, strings.Join(handles, ", "))
		}
	}
	return b.String()
}

func statusLabel(s models.DraftStatus) string {
	switch s {
	case models.DraftApprovedA:
		return "A"
	case models.DraftApprovedB:
		return "B"
	default:
		return "edited text"
	}
}
