package remote

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseGroupRef(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want GroupRef
		ok   bool
	}{
		{"https://t.me/example", GroupRef{PublicRef, "example"}, true},
		{"  t.me/example  ", GroupRef{PublicRef, "example"}, true},
		{"@example", GroupRef{PublicRef, "example"}, true},
		{"https://t.me/example?start=abc", GroupRef{PublicRef, "example"}, true},
		{"https://t.me/example/123", GroupRef{PublicRef, "example"}, true},
		{"HTTPS://T.ME/Example", GroupRef{PublicRef, "Example"}, true},
		{"https://t.me/+AbCdEf123456", GroupRef{InviteRef, "AbCdEf123456"}, true},
		{"https://t.me/joinchat/AbCdEf123456", GroupRef{InviteRef, "AbCdEf123456"}, true},
		{"https://t.me/+short", GroupRef{}, false},
		{"https://example.com/group", GroupRef{}, false},
		{"example", GroupRef{}, false},
		{"@", GroupRef{}, false},
		{"", GroupRef{}, false},
	}
	for _, tc := range cases {
		got, err := ParseGroupRef(tc.in)
		if !tc.ok {
			require.ErrorIs(t, err, ErrBadGroupRef, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

func TestGroupRefString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://t.me/example", GroupRef{PublicRef, "example"}.String())
	require.Equal(t, "https://t.me/+AbCdEf123456", GroupRef{InviteRef, "AbCdEf123456"}.String())
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	err := error(RateLimit(42e9))
	require.Equal(t, RateLimited, KindOf(err))
	w, ok := WaitOf(err)
	require.True(t, ok)
	require.Equal(t, "42s", w.String())

	require.ErrorIs(t, NewError(Banned, "x"), &Error{Kind: Banned})
	require.NotErrorIs(t, NewError(Banned, "x"), &Error{Kind: AccessDenied})
	require.Equal(t, Unknown, KindOf(errString("plain")))
}

type errString string

func (e errString) Error() string { return string(e) }
