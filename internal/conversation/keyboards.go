package conversation

import (
	"tgfleet/pkg/tgui"
)

// Callback scope and actions for inline buttons owned by this package.
const (
	cbScope  = "acct"
	cbDelete = "del"
)

func mainKeyboard() *tgui.Keyboard {
	return tgui.NewKeyboard().
		Row(LabelCreate, LabelList).
		Row(LabelJoin, LabelLeave).
		Row(LabelCheck, LabelSend).
		Row(LabelAdmin)
}

func adminKeyboard() *tgui.Keyboard {
	return tgui.NewKeyboard().
		Row(LabelGrant, LabelRevoke).
		Row(LabelBack)
}

func deleteButton(sessionRef string) (string, bool) {
	data, err := tgui.Data(cbScope, cbDelete, sessionRef)
	return data, err == nil
}
