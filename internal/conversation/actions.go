package conversation

import (
	"strings"

	kit "tgfleet/internal/transport"
)

// Action is a top-level operator request. The set is closed.
type Action int

const (
	NoAction Action = iota
	Menu
	CreateAccount
	ListAccounts
	JoinGroup
	LeaveGroup
	CheckSubscription
	Broadcast
	AdminPanel
	AdminGrant
	AdminRevoke
)

var actionNames = [...]string{
	NoAction:          "none",
	Menu:              "menu",
	CreateAccount:     "create-account",
	ListAccounts:      "list-accounts",
	JoinGroup:         "join-group",
	LeaveGroup:        "leave-group",
	CheckSubscription: "check-subscription",
	Broadcast:         "broadcast",
	AdminPanel:        "admin-panel",
	AdminGrant:        "admin-grant",
	AdminRevoke:       "admin-revoke",
}

func (a Action) String() string {
	if int(a) >= 0 && int(a) < len(actionNames) {
		return actionNames[a]
	}
	return "unknown"
}

// Button labels. Pressing a reply keyboard button sends its label.
const (
	LabelCreate = "➕ Create account"
	LabelList   = "📂 My accounts"
	LabelJoin   = "📩 Join group"
	LabelLeave  = "🚫 Leave group"
	LabelCheck  = "📢 Check subscription"
	LabelSend   = "📨 Broadcast"
	LabelAdmin  = "🛠 Admin panel"
	LabelGrant  = "👤 Grant admin"
	LabelRevoke = "✂️ Revoke admin"
	LabelBack   = "⬅ Back"
)

var byLabel = map[string]Action{
	LabelCreate: CreateAccount,
	LabelList:   ListAccounts,
	LabelJoin:   JoinGroup,
	LabelLeave:  LeaveGroup,
	LabelCheck:  CheckSubscription,
	LabelSend:   Broadcast,
	LabelAdmin:  AdminPanel,
	LabelGrant:  AdminGrant,
	LabelRevoke: AdminRevoke,
	LabelBack:   Menu,
}

// Command is a slash command with its menu description.
type Command struct {
	Name        string
	Action      Action
	Description string
}

var Commands = []Command{
	{"start", Menu, "show the main menu"},
	{"create", CreateAccount, "add a remote account"},
	{"accounts", ListAccounts, "list your accounts"},
	{"join", JoinGroup, "join a group with every account"},
	{"leave", LeaveGroup, "leave a group"},
	{"check", CheckSubscription, "check group membership"},
	{"broadcast", Broadcast, "send a message from every account"},
	{"grant", AdminGrant, "grant admin rights"},
	{"revoke", AdminRevoke, "revoke admin rights"},
}

// MenuCommands lists Commands for the bot command menu.
func MenuCommands() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(Commands))
	for _, c := range Commands {
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

// Recognize maps operator text to a top-level action: an exact button label
// or a slash command (an optional @botname suffix is ignored).
func Recognize(text string) (Action, bool) {
	text = strings.TrimSpace(text)
	if a, ok := byLabel[text]; ok {
		return a, true
	}
	word, ok := strings.CutPrefix(text, "/")
	if !ok {
		return NoAction, false
	}
	if i := strings.IndexAny(word, " \t\n"); i >= 0 {
		word = word[:i]
	}
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)
	if word == "menu" {
		return Menu, true
	}
	for _, c := range Commands {
		if c.Name == word {
			return c.Action, true
		}
	}
	return NoAction, false
}

type effectKind int

const (
	showMenu effectKind = iota
	showAdminMenu
	listAccounts
	startAuth
	startParams
)

// Effect is what a freshly requested action does.
type Effect struct {
	kind      effectKind
	adminOnly bool
	steps     []step
}

// dispatch is the routing table: a pure mapping from action to effect.
func dispatch(a Action) Effect {
	switch a {
	case CreateAccount:
		return Effect{kind: startAuth}
	case ListAccounts:
		return Effect{kind: listAccounts}
	case JoinGroup:
		return Effect{kind: startParams, steps: []step{stepLink, stepInterval}}
	case LeaveGroup:
		return Effect{kind: startParams, steps: []step{stepLink, stepInterval, stepCount}}
	case CheckSubscription:
		return Effect{kind: startParams, steps: []step{stepLink}}
	case Broadcast:
		return Effect{kind: startParams, steps: []step{stepLink, stepMessage, stepInterval}}
	case AdminPanel:
		return Effect{kind: showAdminMenu, adminOnly: true}
	case AdminGrant, AdminRevoke:
		return Effect{kind: startParams, adminOnly: true, steps: []step{stepUserID}}
	}
	return Effect{kind: showMenu}
}
