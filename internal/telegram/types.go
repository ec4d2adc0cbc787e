package telegram

import (
	"time"

	"github.com/gotd/td/tg"
)

// ChatKind is the peer type behind a marked chat id.
type ChatKind string

const (
	ChatUser    ChatKind = "user"
	ChatGroup   ChatKind = "group"   // basic group
	ChatChannel ChatKind = "channel" // broadcast channel or supergroup
)

// Chat is a resolved chat the account can read from or write to.
type Chat struct {
	ID        int64    // marked id: user id, -chat id, or -100<channel id>
	Title     string   // chat title or user display name
	Kind      ChatKind // peer type
	Username  string   // public username without @, if any
	Broadcast bool     // true for broadcast channels (not supergroups)

	peer tg.InputPeerClass
}

// RawID returns the unmarked telegram id.
func (c Chat) RawID() int64 {
	_, id := ParseMarkedID(c.ID)
	return id
}

// IsGroupOrChannel reports whether the chat is anything but a private chat.
func (c Chat) IsGroupOrChannel() bool {
	return c.Kind == ChatGroup || c.Kind == ChatChannel
}

// InputPeer returns the peer used for API calls.
func (c Chat) InputPeer() tg.InputPeerClass {
	if c.peer != nil {
		return c.peer
	}
	return &tg.InputPeerEmpty{}
}

// MediaKind classifies message media for re-upload.
type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaAnimation MediaKind = "animation"
	MediaAudio     MediaKind = "audio"
	MediaVoice     MediaKind = "voice"
	MediaVideoNote MediaKind = "video_note"
	MediaSticker   MediaKind = "sticker"
	MediaDocument  MediaKind = "document"
	MediaOther     MediaKind = "other" // polls, geo, contacts, games; forwarded as-is
)

// Media describes the attachment of a message and everything needed
// to download it and upload it again with the same type attributes.
type Media struct {
	Kind     MediaKind
	FileName string
	MimeType string
	Size     int64

	// video, audio, voice, video note
	Duration          float64
	Width             int
	Height            int
	SupportsStreaming bool
	Title             string
	Performer         string

	location tg.InputFileLocationClass
	document *tg.InputDocument // stickers are re-sent by reference
}

// Downloadable reports whether the media can be fetched to a local file.
func (m *Media) Downloadable() bool {
	return m != nil && m.location != nil
}

// Message is a fetched telegram message.
type Message struct {
	ID        int
	ChatID    int64 // marked
	Text      string
	Entities  []tg.MessageEntityClass
	Date      time.Time
	Media     *Media // nil for text-only messages (web page previews included)
	GroupedID int64  // album id, 0 if not part of an album
}

// HasMedia reports whether the message carries an attachment.
func (m Message) HasMedia() bool {
	return m.Media != nil
}

// Incoming is a message delivered to the update listener.
type Incoming struct {
	MessageID int
	ChatID    int64 // marked
	SenderID  int64 // user id, 0 when sent on behalf of a channel
	Out       bool  // sent by the logged-in account
	Text      string

	// ForwardedFrom is the marked id of the channel the message was forwarded
	// from, 0 if not forwarded from a channel.
	ForwardedFrom int64
}
