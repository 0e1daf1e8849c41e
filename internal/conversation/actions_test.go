package conversation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecognize(t *testing.T) {
	cases := map[string]Action{
		LabelCreate:         CreateAccount,
		"  " + LabelList:    ListAccounts,
		"/start":            Menu,
		"/menu":             Menu,
		"/join@tgfleet_bot": JoinGroup,
		"/LEAVE now":        LeaveGroup,
		"/check":            CheckSubscription,
		"/broadcast":        Broadcast,
		LabelBack:           Menu,
		"/grant":            AdminGrant,
		LabelRevoke:         AdminRevoke,
	}
	for in, want := range cases {
		got, ok := Recognize(in)
		require.True(t, ok, in)
		require.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "join", "/nope", "hello"} {
		_, ok := Recognize(in)
		require.False(t, ok, in)
	}
}

func TestDispatchSteps(t *testing.T) {
	names := func(a Action) []string {
		var out []string
		for _, s := range dispatch(a).steps {
			out = append(out, s.name)
		}
		return out
	}
	require.Equal(t, []string{"link", "interval"}, names(JoinGroup))
	require.Equal(t, []string{"link", "interval", "count"}, names(LeaveGroup))
	require.Equal(t, []string{"link"}, names(CheckSubscription))
	require.Equal(t, []string{"link", "message", "interval"}, names(Broadcast))
	require.Equal(t, []string{"user-id"}, names(AdminGrant))

	require.Equal(t, startAuth, dispatch(CreateAccount).kind)
	require.Equal(t, listAccounts, dispatch(ListAccounts).kind)
	require.True(t, dispatch(AdminRevoke).adminOnly)
	require.False(t, dispatch(JoinGroup).adminOnly)
	require.Equal(t, showMenu, dispatch(Menu).kind)
}

func TestMenuCommandsMirrorCommands(t *testing.T) {
	cmds := MenuCommands()
	require.Len(t, cmds, len(Commands))
	require.Equal(t, "start", cmds[0].Command)
	for _, c := range cmds {
		a, ok := Recognize("/" + c.Command)
		require.True(t, ok, c.Command)
		require.NotEqual(t, NoAction, a)
	}
}
