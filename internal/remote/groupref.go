package remote

import (
	"errors"
	"regexp"
	"strings"
)

type RefKind int

const (
	PublicRef RefKind = iota + 1
	InviteRef
)

// GroupRef points at a group or channel either by public username or by
// private invite hash. The two are distinguished syntactically.
type GroupRef struct {
	Kind  RefKind
	Value string // username without '@', or invite hash
}

var (
	ErrBadGroupRef = errors.New("not a telegram group link")

	usernameRe   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{2,31}$`)
	inviteHashRe = regexp.MustCompile(`^[A-Za-z0-9_-]{8,}$`)
)

// ParseGroupRef accepts https://t.me/name, t.me/name, @name,
// https://t.me/+hash and https://t.me/joinchat/hash. Query strings,
// fragments and trailing path segments (message ids) are ignored.
func ParseGroupRef(s string) (GroupRef, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	if name, ok := strings.CutPrefix(s, "@"); ok {
		if usernameRe.MatchString(name) {
			return GroupRef{Kind: PublicRef, Value: name}, nil
		}
		return GroupRef{}, ErrBadGroupRef
	}

	lower := strings.ToLower(s)
	for _, scheme := range []string{"https://", "http://"} {
		if strings.HasPrefix(lower, scheme) {
			s, lower = s[len(scheme):], lower[len(scheme):]
			break
		}
	}
	var path string
	for _, host := range []string{"t.me/", "telegram.me/", "www.t.me/"} {
		if strings.HasPrefix(lower, host) {
			path = s[len(host):]
			break
		}
	}
	if path == "" {
		return GroupRef{}, ErrBadGroupRef
	}

	segs := strings.Split(strings.Trim(path, "/"), "/")
	head := segs[0]
	switch {
	case strings.HasPrefix(head, "+"):
		if h := head[1:]; inviteHashRe.MatchString(h) {
			return GroupRef{Kind: InviteRef, Value: h}, nil
		}
	case strings.EqualFold(head, "joinchat"):
		if len(segs) > 1 && inviteHashRe.MatchString(segs[1]) {
			return GroupRef{Kind: InviteRef, Value: segs[1]}, nil
		}
	case usernameRe.MatchString(head):
		return GroupRef{Kind: PublicRef, Value: head}, nil
	}
	return GroupRef{}, ErrBadGroupRef
}

func (r GroupRef) IsInvite() bool { return r.Kind == InviteRef }

// String returns the canonical link.
func (r GroupRef) String() string {
	switch r.Kind {
	case InviteRef:
		return "https://t.me/+" + r.Value
	case PublicRef:
		return "https://t.me/" + r.Value
	}
	return ""
}
