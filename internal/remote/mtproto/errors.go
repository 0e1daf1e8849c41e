package mtproto

import (
	"context"
	"errors"

	"github.com/gotd/td/tgerr"

	"tgfleet/internal/remote"
)

// rpcKinds maps Telegram RPC error types onto the remote taxonomy.
var rpcKinds = map[string]remote.Kind{
	"AUTH_KEY_UNREGISTERED":       remote.StaleSession,
	"AUTH_KEY_INVALID":            remote.StaleSession,
	"SESSION_REVOKED":             remote.StaleSession,
	"SESSION_EXPIRED":             remote.StaleSession,
	"USER_DEACTIVATED":            remote.StaleSession,
	"USER_DEACTIVATED_BAN":        remote.StaleSession,
	"USER_ALREADY_PARTICIPANT":    remote.AlreadyMember,
	"USER_NOT_PARTICIPANT":        remote.NotMember,
	"USER_BANNED_IN_CHANNEL":      remote.Banned,
	"CHANNEL_BANNED":              remote.Banned,
	"CHANNEL_PRIVATE":             remote.AccessDenied,
	"CHANNEL_INVALID":             remote.AccessDenied,
	"CHAT_ADMIN_REQUIRED":         remote.AccessDenied,
	"INVITE_HASH_EXPIRED":         remote.AccessDenied,
	"INVITE_HASH_INVALID":         remote.AccessDenied,
	"INVITE_HASH_EMPTY":           remote.AccessDenied,
	"INVITE_REQUEST_SENT":         remote.AccessDenied,
	"USERNAME_NOT_OCCUPIED":       remote.AccessDenied,
	"USERNAME_INVALID":            remote.AccessDenied,
	"CHAT_WRITE_FORBIDDEN":        remote.WriteForbidden,
	"CHAT_SEND_PLAIN_FORBIDDEN":   remote.WriteForbidden,
	"CHAT_RESTRICTED":             remote.WriteForbidden,
	"PHONE_CODE_EXPIRED":          remote.CodeExpired,
	"SESSION_PASSWORD_NEEDED":     remote.PasswordNeeded,
	"PHONE_CODE_INVALID":          remote.InvalidCredential,
	"PHONE_CODE_EMPTY":            remote.InvalidCredential,
	"PHONE_NUMBER_INVALID":        remote.InvalidCredential,
	"PHONE_NUMBER_BANNED":         remote.InvalidCredential,
	"PHONE_NUMBER_UNOCCUPIED":     remote.InvalidCredential,
	"PASSWORD_HASH_INVALID":       remote.InvalidCredential,
	"API_ID_INVALID":              remote.InvalidCredential,
	"API_ID_PUBLISHED_FLOOD":      remote.InvalidCredential,
	"PHONE_PASSWORD_FLOOD":        remote.RateLimited,
	"CHANNELS_TOO_MUCH":           remote.AccessDenied,
	"USER_CHANNELS_TOO_MUCH":      remote.AccessDenied,
	"PEER_FLOOD":                  remote.RateLimited,
	"SLOWMODE_WAIT":               remote.RateLimited,
	"CHAT_GUEST_SEND_FORBIDDEN":   remote.WriteForbidden,
	"CHAT_SEND_MEDIA_FORBIDDEN":   remote.WriteForbidden,
	"TOPIC_CLOSED":                remote.WriteForbidden,
	"USER_RESTRICTED":             remote.WriteForbidden,
	"INPUT_USER_DEACTIVATED":      remote.AccessDenied,
	"CHAT_INVALID":                remote.AccessDenied,
	"PEER_ID_INVALID":             remote.AccessDenied,
	"CHAT_ID_INVALID":             remote.AccessDenied,
	"MSG_ID_INVALID":              remote.AccessDenied,
	"CHANNEL_PUBLIC_GROUP_NA":     remote.AccessDenied,
	"USER_IS_BLOCKED":             remote.AccessDenied,
	"USER_PRIVACY_RESTRICTED":     remote.AccessDenied,
	"USER_NOT_MUTUAL_CONTACT":     remote.AccessDenied,
	"USER_KICKED":                 remote.Banned,
	"USER_BANNED_IN_CHANNEL_SEND": remote.Banned,
}

// classify converts a gotd error into *remote.Error. Context errors pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return &remote.Error{Kind: remote.RateLimited, Wait: d, Err: err}
	}
	if rpc, ok := tgerr.As(err); ok {
		if kind, ok := rpcKinds[rpc.Type]; ok {
			e := &remote.Error{Kind: kind, Detail: rpc.Type, Err: err}
			if kind == remote.RateLimited && rpc.Argument > 0 {
				e.Wait = secondsToDuration(rpc.Argument)
			}
			return e
		}
		return &remote.Error{Kind: remote.Unknown, Detail: rpc.Error(), Err: err}
	}
	return &remote.Error{Kind: remote.Unknown, Detail: err.Error(), Err: err}
}
