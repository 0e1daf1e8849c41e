package mtproto

import (
	"context"
	"fmt"

	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/tg"

	"tgfleet/internal/remote"
)

// target is a resolved group: a channel/supergroup or a legacy basic chat.
type target struct {
	channel *tg.InputChannel
	chatID  int64
}

func (t target) peer() tg.InputPeerClass {
	if t.channel != nil {
		return &tg.InputPeerChannel{ChannelID: t.channel.ChannelID, AccessHash: t.channel.AccessHash}
	}
	return &tg.InputPeerChat{ChatID: t.chatID}
}

func targetFromChat(chat tg.ChatClass) (target, error) {
	switch ch := chat.(type) {
	case *tg.Channel:
		return target{channel: &tg.InputChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}}, nil
	case *tg.Chat:
		return target{chatID: ch.ID}, nil
	case *tg.ChannelForbidden:
		return target{}, remote.NewError(remote.Banned, "CHANNEL_FORBIDDEN")
	case *tg.ChatForbidden:
		return target{}, remote.NewError(remote.Banned, "CHAT_FORBIDDEN")
	default:
		return target{}, remote.NewError(remote.AccessDenied, fmt.Sprintf("unsupported chat %T", chat))
	}
}

// resolve turns a ref into a target. For invites it requires membership:
// a ChatInvite preview (not joined yet) reports NotMember.
func (c *Client) resolve(ctx context.Context, ref remote.GroupRef) (target, error) {
	api := c.tc.API()
	if ref.IsInvite() {
		inv, err := api.MessagesCheckChatInvite(ctx, ref.Value)
		if err != nil {
			return target{}, classify(err)
		}
		switch v := inv.(type) {
		case *tg.ChatInviteAlready:
			return targetFromChat(v.Chat)
		case *tg.ChatInvitePeek:
			return targetFromChat(v.Chat)
		case *tg.ChatInvite:
			return target{}, remote.NewError(remote.NotMember, "not joined via invite")
		default:
			return target{}, remote.NewError(remote.Unknown, fmt.Sprintf("unexpected invite %T", inv))
		}
	}

	p, err := message.NewSender(api).ResolveDomain(ref.Value).AsInputPeer(ctx)
	if err != nil {
		return target{}, classify(err)
	}
	switch v := p.(type) {
	case *tg.InputPeerChannel:
		return target{channel: &tg.InputChannel{ChannelID: v.ChannelID, AccessHash: v.AccessHash}}, nil
	case *tg.InputPeerChat:
		return target{chatID: v.ChatID}, nil
	default:
		return target{}, remote.NewError(remote.AccessDenied, "not a group or channel")
	}
}

func (c *Client) Join(ctx context.Context, ref remote.GroupRef) error {
	api := c.tc.API()
	if ref.IsInvite() {
		_, err := api.MessagesImportChatInvite(ctx, ref.Value)
		return classify(err)
	}
	t, err := c.resolve(ctx, ref)
	if err != nil {
		return err
	}
	if t.channel == nil {
		return remote.NewError(remote.AccessDenied, "basic groups can only be joined by invite")
	}
	_, err = api.ChannelsJoinChannel(ctx, t.channel)
	return classify(err)
}

func (c *Client) Leave(ctx context.Context, ref remote.GroupRef) error {
	t, err := c.resolve(ctx, ref)
	if err != nil {
		return err
	}
	api := c.tc.API()
	if t.channel != nil {
		_, err = api.ChannelsLeaveChannel(ctx, t.channel)
		return classify(err)
	}
	_, err = api.MessagesDeleteChatUser(ctx, &tg.MessagesDeleteChatUserRequest{
		ChatID: t.chatID,
		UserID: &tg.InputUserSelf{},
	})
	return classify(err)
}

func (c *Client) SendMessage(ctx context.Context, ref remote.GroupRef, text string) error {
	t, err := c.resolve(ctx, ref)
	if err != nil {
		return err
	}
	_, err = message.NewSender(c.tc.API()).To(t.peer()).Text(ctx, text)
	return classify(err)
}

func (c *Client) IsMember(ctx context.Context, ref remote.GroupRef) (bool, error) {
	t, err := c.resolve(ctx, ref)
	if remote.KindOf(err) == remote.NotMember {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if t.channel == nil {
		// Resolving a basic chat through an invite already implies membership.
		return true, nil
	}
	_, err = c.tc.API().ChannelsGetParticipant(ctx, &tg.ChannelsGetParticipantRequest{
		Channel:     t.channel,
		Participant: &tg.InputPeerSelf{},
	})
	if err = classify(err); remote.KindOf(err) == remote.NotMember {
		return false, nil
	}
	return err == nil, err
}
