package telegram

import (
	"mime"
	"path/filepath"
	"time"

	"github.com/gotd/td/tg"
)

// parseMessage converts a raw message; service and empty messages yield nil.
func parseMessage(msg tg.MessageClass) *Message {
	m, ok := msg.(*tg.Message)
	if !ok {
		return nil
	}

	out := &Message{
		ID:       m.ID,
		ChatID:   MarkPeer(m.PeerID),
		Text:     m.Message,
		Entities: m.Entities,
		Date:     time.Unix(int64(m.Date), 0),
	}
	if gid, ok := m.GetGroupedID(); ok {
		out.GroupedID = gid
	}
	if m.Media != nil {
		out.Media = parseMedia(m.Media)
	}
	return out
}

// extractMessages flattens any history/messages response
func extractMessages(res tg.MessagesMessagesClass) []Message {
	var raw []tg.MessageClass
	switch h := res.(type) {
	case *tg.MessagesChannelMessages:
		raw = h.Messages
	case *tg.MessagesMessagesSlice:
		raw = h.Messages
	case *tg.MessagesMessages:
		raw = h.Messages
	}

	var messages []Message
	for _, msg := range raw {
		if m := parseMessage(msg); m != nil {
			messages = append(messages, *m)
		}
	}
	return messages
}

func parseMedia(media tg.MessageMediaClass) *Media {
	switch v := media.(type) {
	case *tg.MessageMediaWebPage, *tg.MessageMediaEmpty:
		return nil
	case *tg.MessageMediaPhoto:
		photo, ok := v.Photo.(*tg.Photo)
		if !ok {
			return &Media{Kind: MediaOther}
		}
		return parsePhoto(photo)
	case *tg.MessageMediaDocument:
		doc, ok := v.Document.(*tg.Document)
		if !ok {
			return &Media{Kind: MediaOther}
		}
		return parseDocument(doc)
	}
	return &Media{Kind: MediaOther}
}

func parsePhoto(p *tg.Photo) *Media {
	var thumb string
	var size int64
	// sizes are ordered smallest first
	for _, s := range p.Sizes {
		switch ps := s.(type) {
		case *tg.PhotoSize:
			thumb, size = ps.Type, int64(ps.Size)
		case *tg.PhotoSizeProgressive:
			thumb = ps.Type
			if n := len(ps.Sizes); n > 0 {
				size = int64(ps.Sizes[n-1])
			}
		}
	}

	return &Media{
		Kind:     MediaPhoto,
		FileName: "photo.jpg",
		MimeType: "image/jpeg",
		Size:     size,
		location: &tg.InputPhotoFileLocation{
			ID:            p.ID,
			AccessHash:    p.AccessHash,
			FileReference: p.FileReference,
			ThumbSize:     thumb,
		},
	}
}

func parseDocument(d *tg.Document) *Media {
	m := &Media{
		Kind:     MediaDocument,
		MimeType: d.MimeType,
		Size:     d.Size,
		location: &tg.InputDocumentFileLocation{
			ID:            d.ID,
			AccessHash:    d.AccessHash,
			FileReference: d.FileReference,
		},
	}

	var animated bool
	for _, attr := range d.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeFilename:
			m.FileName = a.FileName
		case *tg.DocumentAttributeVideo:
			m.Kind = MediaVideo
			if a.RoundMessage {
				m.Kind = MediaVideoNote
			}
			m.Duration = a.Duration
			m.Width, m.Height = a.W, a.H
			m.SupportsStreaming = a.SupportsStreaming
		case *tg.DocumentAttributeAudio:
			m.Kind = MediaAudio
			if a.Voice {
				m.Kind = MediaVoice
			}
			m.Duration = float64(a.Duration)
			m.Title, m.Performer = a.Title, a.Performer
		case *tg.DocumentAttributeAnimated:
			animated = true
		case *tg.DocumentAttributeSticker:
			m.Kind = MediaSticker
		}
	}

	switch {
	case m.Kind == MediaSticker:
		m.document = &tg.InputDocument{ID: d.ID, AccessHash: d.AccessHash, FileReference: d.FileReference}
	case animated && m.Kind == MediaVideo:
		m.Kind = MediaAnimation
	}
	return m
}

// localName is the file name used when the media is downloaded
func (m *Media) localName() string {
	if m.FileName != "" {
		return filepath.Base(m.FileName)
	}
	ext := ".bin"
	switch m.Kind {
	case MediaPhoto:
		ext = ".jpg"
	case MediaVoice:
		ext = ".ogg"
	case MediaVideo, MediaVideoNote, MediaAnimation:
		ext = ".mp4"
	case MediaAudio:
		ext = ".mp3"
	default:
		if exts, err := mime.ExtensionsByType(m.MimeType); err == nil && len(exts) > 0 {
			ext = exts[0]
		}
	}
	return string(m.Kind) + ext
}

// inputMedia builds the upload request body with attributes matching the source media.
func inputMedia(file tg.InputFileClass, m *Media) tg.InputMediaClass {
	if m.Kind == MediaPhoto {
		return &tg.InputMediaUploadedPhoto{File: file}
	}

	name := &tg.DocumentAttributeFilename{FileName: m.localName()}
	mimeType := m.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	var attrs []tg.DocumentAttributeClass
	switch m.Kind {
	case MediaVideo, MediaAnimation:
		attrs = append(attrs, &tg.DocumentAttributeVideo{
			Duration:          m.Duration,
			W:                 m.Width,
			H:                 m.Height,
			SupportsStreaming: true,
		}, name)
		if m.Kind == MediaAnimation {
			attrs = append(attrs, &tg.DocumentAttributeAnimated{})
		}
	case MediaVideoNote:
		length := m.Width
		if length == 0 {
			length = m.Height
		}
		attrs = append(attrs, &tg.DocumentAttributeVideo{
			RoundMessage: true,
			Duration:     m.Duration,
			W:            length,
			H:            length,
		})
	case MediaAudio:
		attrs = append(attrs, &tg.DocumentAttributeAudio{
			Duration:  int(m.Duration),
			Title:     m.Title,
			Performer: m.Performer,
		}, name)
	case MediaVoice:
		attrs = append(attrs, &tg.DocumentAttributeAudio{
			Voice:    true,
			Duration: int(m.Duration),
		})
	default:
		attrs = append(attrs, name)
	}

	return &tg.InputMediaUploadedDocument{
		File:       file,
		MimeType:   mimeType,
		Attributes: attrs,
	}
}
