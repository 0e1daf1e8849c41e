package auth

import (
	"errors"
	"fmt"

	"tgfleet/internal/remote"
)

const (
	msgBadAppID      = "App ID must be a positive number. Enter the App ID again:"
	msgBadPhone      = "Phone number must look like +15551234567. Enter it again:"
	msgBadCode       = "The code is 4 to 8 digits. Enter the code again:"
	msgCodeResent    = "The code expired. A new code was sent, enter it:"
	msgAlreadyActive = "This session is already active, nothing to do."
	msgAccountAdded  = "Account added."
	msgFlowFinished  = "Account creation already finished."
)

func promptFor(s Step) string {
	switch s {
	case CollectingAppID:
		return "Enter the App ID (api_id from my.telegram.org):"
	case CollectingAppSecret:
		return "Enter the App secret (api_hash):"
	case CollectingPhone:
		return "Enter the phone number in international format (+15551234567):"
	case AwaitingCode:
		return "Enter the login code Telegram sent to that number:"
	case AwaitingPassword:
		return "This account has two-step verification. Enter the password:"
	}
	return msgFlowFinished
}

func failureText(err error) string {
	switch remote.KindOf(err) {
	case remote.RateLimited:
		w, _ := remote.WaitOf(err)
		return fmt.Sprintf("Telegram rate limit: try again in %s. Account creation cancelled.", w)
	case remote.InvalidCredential:
		return "Telegram rejected the data (" + detail(err) + "). Account creation cancelled, start over."
	case remote.CodeExpired:
		return "The code expired again. Account creation cancelled, start over."
	case remote.StaleSession:
		return "Telegram revoked this session. Account creation cancelled, start over."
	}
	return "Account creation failed: " + err.Error()
}

func detail(err error) string {
	var re *remote.Error
	if errors.As(err, &re) && re.Detail != "" {
		return re.Detail
	}
	return err.Error()
}
