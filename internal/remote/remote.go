// Package remote defines the capability surface of a remote Telegram user
// account as seen by the auth flow and the bulk executor, and the error
// taxonomy every implementation maps its failures onto.
package remote

import "context"

// Credential is the app id / app secret pair an account was registered with.
type Credential struct {
	AppID     int
	AppSecret string
}

// Identity is the account's own profile, used as its display handle.
type Identity struct {
	ID        int64
	Username  string
	FirstName string
	Phone     string
}

// Handle returns the best human-readable label for the identity.
func (i Identity) Handle() string {
	switch {
	case i.Username != "":
		return "@" + i.Username
	case i.FirstName != "":
		return i.FirstName
	case i.Phone != "":
		return "+" + i.Phone
	}
	return ""
}

// CodeToken identifies a pending login-code request.
type CodeToken string

// Client is one remote account session. A client is opened for a single
// operation and always closed afterwards.
//
// Every method fails with a *Error for the conditions in the Kind taxonomy.
type Client interface {
	Connect(ctx context.Context) error
	IsAuthorized(ctx context.Context) (bool, error)

	RequestCode(ctx context.Context, phone string) (CodeToken, error)
	SignIn(ctx context.Context, phone, code string, token CodeToken) error
	SignInPassword(ctx context.Context, password string) error

	Join(ctx context.Context, ref GroupRef) error
	Leave(ctx context.Context, ref GroupRef) error
	SendMessage(ctx context.Context, ref GroupRef, text string) error
	IsMember(ctx context.Context, ref GroupRef) (bool, error)
	WhoAmI(ctx context.Context) (Identity, error)

	Close() error
}

// Factory opens clients bound to a persisted session.
type Factory interface {
	Open(cred Credential, sessionRef string) (Client, error)
	// Remove deletes the persisted session artifact. Missing artifacts are not an error.
	Remove(sessionRef string) error
}
