package telegram

import (
	"github.com/gotd/td/tg"
)

// channelOffset turns a channel id into its -100 prefixed form.
const channelOffset int64 = 1000000000000

// MarkChannel returns the -100<id> form of a channel id.
func MarkChannel(id int64) int64 { return -(channelOffset + id) }

// MarkGroup returns the -<id> form of a basic group id.
func MarkGroup(id int64) int64 { return -id }

// ParseMarkedID splits a marked chat id into its kind and raw id.
func ParseMarkedID(marked int64) (ChatKind, int64) {
	switch {
	case marked <= -channelOffset:
		return ChatChannel, -marked - channelOffset
	case marked < 0:
		return ChatGroup, -marked
	default:
		return ChatUser, marked
	}
}

// MarkPeer returns the marked id of a peer, 0 for nil.
func MarkPeer(p tg.PeerClass) int64 {
	switch v := p.(type) {
	case *tg.PeerUser:
		return v.UserID
	case *tg.PeerChat:
		return MarkGroup(v.ChatID)
	case *tg.PeerChannel:
		return MarkChannel(v.ChannelID)
	}
	return 0
}
