package conversation

import (
	"fmt"
	"time"

	"tgfleet/internal/bulk"
	"tgfleet/pkg/tgui"
)

const (
	promptLink     = "Send the group link (https://t.me/name, @name or an invite link):"
	promptInterval = "Delay between accounts in minutes: a number (5) or a range (1-3):"
	promptCount    = "How many accounts should leave?"
	promptMessage  = "Send the message text:"
	promptUserID   = "Send the numeric Telegram ID of the user:"

	msgBadLink      = "That is not a Telegram group link. Send the link again:"
	msgBadInterval  = "The delay must be a number of minutes (5) or a range (1-3). Send it again:"
	msgBadCount     = "The count must be a positive whole number. Send it again:"
	msgEmptyMessage = "The message is empty. Send the message text:"
	msgBadUserID    = "The ID must be a positive number. Send it again:"

	msgWelcome      = "👋 Hi! Pick an action:"
	msgAdminWelcome = "🛠 Admin panel"
	msgNotAdmin     = "🚫 Admin rights are required for that."
	msgUnknown      = "Pick an action from the menu or send /start."
	msgBusy         = "⏳ A bulk run is still in progress. Wait for its report."
	msgNoAccounts   = "You have no accounts yet. Use " + LabelCreate + "."
	msgAbortYesNo   = "Reply %q or %q."
	msgResume       = "OK, continuing."
	msgRemoved      = "Account removed."
	msgNotFound     = "That account is already gone."
)

func abortPrompt(yes, no string) string {
	return fmt.Sprintf("⚠️ Another action is in progress. Abandon it and start the new one? Reply %q or %q.", yes, no)
}

func startedText(act Action, n int, d bulk.Delay) string {
	s := fmt.Sprintf("▶️ %s started on %d account(s)", act, n)
	if d.Max > 0 {
		s += ", delay " + formatDelay(d)
	}
	return s + "."
}

func formatDelay(d bulk.Delay) string {
	if d.IsRange() {
		return fmt.Sprintf("%s to %s", shortDur(d.Min), shortDur(d.Max))
	}
	return shortDur(d.Min)
}

func shortDur(d time.Duration) string {
	if d%time.Minute == 0 {
		return fmt.Sprintf("%dm", int(d/time.Minute))
	}
	return d.Round(time.Second).String()
}

var outcomeIcons = map[bulk.OutcomeKind]string{
	bulk.OK:           "✅",
	bulk.Noop:         "☑️",
	bulk.Failed:       "❌",
	bulk.RateLimited:  "⏱",
	bulk.RemovedStale: "🗑",
	bulk.Skipped:      "⚠️",
}

func outcomeLine(o bulk.Outcome) string {
	s := outcomeIcons[o.Kind] + " " + o.Handle + ": " + string(o.Kind)
	if o.Detail != "" {
		s += " (" + tgui.TruncRunes(o.Detail, 200) + ")"
	}
	return s
}

func reportMessage(res bulk.Result) tgui.Message {
	b := tgui.New().Title("📊", fmt.Sprintf("%s finished", res.Action))
	if res.Target.Kind != 0 {
		b.KV("Group", res.Target.String())
	}
	b.KV("Succeeded", fmt.Sprint(res.Succeeded)).
		KV("Failed", fmt.Sprint(res.Failed)).
		KV("No change", fmt.Sprint(res.Noop))
	if res.Removed > 0 {
		b.KV("Removed stale", fmt.Sprint(res.Removed))
	}
	if res.Interrupted {
		b.Line("Stopped early: the bot is shutting down.")
	}
	b.KV("Took", res.Took.Round(time.Second).String())
	return b.Build()
}
