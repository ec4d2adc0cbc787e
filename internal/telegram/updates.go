package telegram

import (
	"context"

	"github.com/celestix/gotgproto/dispatcher/handlers"
	"github.com/celestix/gotgproto/dispatcher/handlers/filters"
	"github.com/celestix/gotgproto/ext"
	"github.com/gotd/td/tg"
)

// IncomingHandler receives new messages seen by the account.
type IncomingHandler func(ctx context.Context, in Incoming) error

// Listen registers h for every new message. Handler errors are logged, not
// propagated, so one bad command never stops the dispatcher.
func (c *Client) Listen(ctx context.Context, h IncomingHandler) error {
	proto, err := c.getProto()
	if err != nil {
		return err
	}

	proto.Dispatcher.AddHandler(handlers.NewMessage(filters.Message.All, func(_ *ext.Context, u *ext.Update) error {
		if u.EffectiveMessage == nil || u.EffectiveMessage.Message == nil {
			return nil
		}

		in := incomingFrom(u.EffectiveMessage.Message)
		if err := h(ctx, in); err != nil {
			c.log.Error().Err(err).Int64("chat_id", in.ChatID).Int("msg_id", in.MessageID).Msg("telegram: update handler failed")
		}
		return nil
	}))

	c.log.Info().Msg("telegram: listening for messages")
	return nil
}

func incomingFrom(m *tg.Message) Incoming {
	in := Incoming{
		MessageID: m.ID,
		ChatID:    MarkPeer(m.PeerID),
		Out:       m.Out,
		Text:      m.Message,
	}

	if from, ok := m.GetFromID(); ok {
		if u, ok := from.(*tg.PeerUser); ok {
			in.SenderID = u.UserID
		}
	} else if u, ok := m.PeerID.(*tg.PeerUser); ok && !m.Out {
		// private chats carry no from_id for the other side
		in.SenderID = u.UserID
	}

	if fwd, ok := m.GetFwdFrom(); ok {
		if from, ok := fwd.GetFromID(); ok {
			if ch, ok := from.(*tg.PeerChannel); ok {
				in.ForwardedFrom = MarkChannel(ch.ChannelID)
			}
		}
	}
	return in
}
