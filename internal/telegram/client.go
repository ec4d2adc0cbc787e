// Package telegram wraps the gotgproto/gotd client with the small set of
// operations the bot needs, plus rate limiting and error classification.
package telegram

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/celestix/gotgproto"
	"github.com/dustin/go-humanize"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"

	"github.com/blockedby/backupbot/internal/logger"
)

const (
	historyPageLimit = 100 // telegram api limit
	maxDialogPages   = 50
)

// Client provides high-level telegram operations on top of the Manager's
// protocol client. Every call waits on the rate limiter first and feeds
// flood waits back into it.
type Client struct {
	manager     *Manager
	rateLimiter *RateLimiter
	log         *logger.Logger

	mu    sync.RWMutex
	peers map[int64]Chat // by marked id
}

// NewClient creates a new telegram client wrapper using the Manager.
func NewClient(manager *Manager) *Client {
	return &Client{
		manager:     manager,
		rateLimiter: DefaultRateLimiter(),
		log:         logger.Get().Component("telegram"),
		peers:       make(map[int64]Chat),
	}
}

// Close stops the client via the manager.
func (c *Client) Close() {
	if c.manager != nil {
		c.manager.Stop()
	}
}

// GetStatus returns the current status of the telegram client.
func (c *Client) GetStatus() Status {
	return c.manager.GetStatus()
}

func (c *Client) getProto() (*gotgproto.Client, error) {
	proto := c.manager.GetClient()
	if proto == nil {
		return nil, ErrNotAuthorized
	}
	return proto, nil
}

// API returns the raw tg.Client for direct API calls.
func (c *Client) API() (*tg.Client, error) {
	proto, err := c.getProto()
	if err != nil {
		return nil, err
	}
	return proto.API(), nil
}

// call runs fn after the rate limiter and classifies its error.
func (c *Client) call(ctx context.Context, op string, fn func(api *tg.Client) error) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}

	api, err := c.API()
	if err != nil {
		return err
	}

	if err := classify(fn(api)); err != nil {
		if wait, ok := AsFloodWait(err); ok {
			c.log.Warn().Str("op", op).Dur("wait", wait).Msg("telegram: FLOOD_WAIT detected, updating rate limiter")
			c.rateLimiter.SetFloodWait(wait)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Self returns the logged-in account as a chat (Saved Messages for users).
func (c *Client) Self() (Chat, error) {
	proto, err := c.getProto()
	if err != nil {
		return Chat{}, err
	}
	if proto.Self == nil {
		return Chat{}, ErrNotAuthorized
	}

	chat, _ := chatFromUser(proto.Self)
	c.remember([]Chat{chat})
	return chat, nil
}

func (c *Client) cached(id int64) (Chat, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	chat, ok := c.peers[id]
	return chat, ok
}

func (c *Client) remember(chats []Chat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, chat := range chats {
		c.peers[chat.ID] = chat
	}
}

// storedPeer looks the peer up in the session's peer storage.
func (c *Client) storedPeer(kind ChatKind, raw, marked int64) tg.InputPeerClass {
	proto, err := c.getProto()
	if err != nil || proto.PeerStorage == nil {
		return nil
	}

	for _, id := range []int64{raw, marked} {
		p := proto.PeerStorage.GetInputPeerById(id)
		switch p.(type) {
		case *tg.InputPeerChannel:
			if kind == ChatChannel {
				return p
			}
		case *tg.InputPeerChat:
			if kind == ChatGroup {
				return p
			}
		case *tg.InputPeerUser, *tg.InputPeerSelf:
			if kind == ChatUser {
				return p
			}
		}
	}
	return nil
}

// GetChat looks a chat up by its marked id and confirms it is accessible.
func (c *Client) GetChat(ctx context.Context, id int64) (Chat, error) {
	if chat, ok := c.cached(id); ok {
		return chat, nil
	}

	kind, raw := ParseMarkedID(id)
	peer := c.storedPeer(kind, raw, id)

	var chats []Chat
	err := c.call(ctx, "get chat", func(api *tg.Client) error {
		switch kind {
		case ChatChannel:
			in := &tg.InputChannel{ChannelID: raw}
			if p, ok := peer.(*tg.InputPeerChannel); ok {
				in.AccessHash = p.AccessHash
			}
			res, err := api.ChannelsGetChannels(ctx, []tg.InputChannelClass{in})
			if err != nil {
				return err
			}
			chats = chatsFromEntities(messagesChats(res), nil)

		case ChatGroup:
			res, err := api.MessagesGetChats(ctx, []int64{raw})
			if err != nil {
				return err
			}
			chats = chatsFromEntities(messagesChats(res), nil)

		default:
			in := &tg.InputUser{UserID: raw}
			if p, ok := peer.(*tg.InputPeerUser); ok {
				in.AccessHash = p.AccessHash
			}
			users, err := api.UsersGetUsers(ctx, []tg.InputUserClass{in})
			if err != nil {
				return err
			}
			chats = chatsFromEntities(nil, users)
		}
		return nil
	})
	if err != nil {
		return Chat{}, err
	}

	c.remember(chats)
	if chat, ok := c.cached(id); ok {
		return chat, nil
	}
	return Chat{}, fmt.Errorf("%w: %d", ErrChatNotFound, id)
}

// ResolveUsername resolves a public username (with or without @) to a chat.
func (c *Client) ResolveUsername(ctx context.Context, username string) (Chat, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")

	c.log.Info().Str("username", username).Msg("telegram: resolving username")

	var resolved *tg.ContactsResolvedPeer
	err := c.call(ctx, "resolve username "+username, func(api *tg.Client) error {
		var err error
		resolved, err = api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
			Username: username,
		})
		return err
	})
	if err != nil {
		return Chat{}, err
	}

	c.remember(chatsFromEntities(resolved.Chats, resolved.Users))
	if chat, ok := c.cached(MarkPeer(resolved.Peer)); ok {
		return chat, nil
	}
	return Chat{}, fmt.Errorf("%w: @%s", ErrChatNotFound, username)
}

// Dialogs lists every chat in the account's dialog list, newest first.
func (c *Client) Dialogs(ctx context.Context) ([]Chat, error) {
	var (
		out        []Chat
		seen       = make(map[int64]bool)
		offsetDate int
		offsetID   int
		offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}
	)

	for page := 0; page < maxDialogPages; page++ {
		var res tg.MessagesDialogsClass
		err := c.call(ctx, "get dialogs", func(api *tg.Client) error {
			var err error
			res, err = api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
				OffsetDate: offsetDate,
				OffsetID:   offsetID,
				OffsetPeer: offsetPeer,
				Limit:      historyPageLimit,
			})
			return err
		})
		if err != nil {
			return out, err
		}

		var (
			dialogs  []tg.DialogClass
			messages []tg.MessageClass
			chats    []tg.ChatClass
			users    []tg.UserClass
			last     bool
		)
		switch d := res.(type) {
		case *tg.MessagesDialogs:
			dialogs, messages, chats, users, last = d.Dialogs, d.Messages, d.Chats, d.Users, true
		case *tg.MessagesDialogsSlice:
			dialogs, messages, chats, users = d.Dialogs, d.Messages, d.Chats, d.Users
		default:
			return out, nil
		}

		c.remember(chatsFromEntities(chats, users))

		for _, dlg := range dialogs {
			id := MarkPeer(dlg.GetPeer())
			if seen[id] {
				continue
			}
			if chat, ok := c.cached(id); ok {
				seen[id] = true
				out = append(out, chat)
			}
		}

		if last || len(dialogs) < historyPageLimit {
			break
		}

		tail := dialogs[len(dialogs)-1]
		tailID := MarkPeer(tail.GetPeer())
		next, ok := c.cached(tailID)
		if !ok {
			break
		}
		offsetPeer = next.InputPeer()
		offsetID = tail.GetTopMessage()
		offsetDate = 0
		for _, m := range messages {
			if msg, ok := m.(*tg.Message); ok && msg.ID == offsetID && MarkPeer(msg.PeerID) == tailID {
				offsetDate = msg.Date
				break
			}
		}
	}

	return out, nil
}

func inputChannel(chat Chat) (*tg.InputChannel, bool) {
	p, ok := chat.InputPeer().(*tg.InputPeerChannel)
	if !ok {
		return nil, false
	}
	return &tg.InputChannel{ChannelID: p.ChannelID, AccessHash: p.AccessHash}, true
}

// GetMessage fetches a single message. Deleted or never-existing ids return ErrMessageNotFound.
func (c *Client) GetMessage(ctx context.Context, chat Chat, id int) (*Message, error) {
	var res tg.MessagesMessagesClass
	err := c.call(ctx, "get message", func(api *tg.Client) error {
		var err error
		ids := []tg.InputMessageClass{&tg.InputMessageID{ID: id}}
		if ch, ok := inputChannel(chat); ok {
			res, err = api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{Channel: ch, ID: ids})
		} else {
			res, err = api.MessagesGetMessages(ctx, ids)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, m := range extractMessages(res) {
		if m.ID == id {
			if m.ChatID == 0 {
				m.ChatID = chat.ID
			}
			return &m, nil
		}
	}
	return nil, fmt.Errorf("%w: %d in %d", ErrMessageNotFound, id, chat.ID)
}

// History fetches up to limit messages older than offsetID (0 = newest), newest first.
func (c *Client) History(ctx context.Context, chat Chat, offsetID, limit int) ([]Message, error) {
	if limit > historyPageLimit {
		limit = historyPageLimit
	}

	c.log.Debug().Int64("chat_id", chat.ID).Int("offset_id", offsetID).Int("limit", limit).Msg("telegram: calling MessagesGetHistory API")

	var res tg.MessagesMessagesClass
	err := c.call(ctx, "get history", func(api *tg.Client) error {
		var err error
		res, err = api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     chat.InputPeer(),
			OffsetID: offsetID,
			Limit:    limit,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return extractMessages(res), nil
}

// Download saves the media into dir and returns the file path.
func (c *Client) Download(ctx context.Context, media *Media, dir string) (string, error) {
	if !media.Downloadable() {
		return "", fmt.Errorf("media %s has no downloadable file", media.Kind)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%d_%s", time.Now().UnixNano(), media.localName()))
	c.log.Debug().Str("kind", string(media.Kind)).Str("size", humanize.Bytes(uint64(media.Size))).Str("path", path).Msg("telegram: downloading media")

	err := c.call(ctx, "download", func(api *tg.Client) error {
		_, err := downloader.NewDownloader().Download(api, media.location).ToPath(ctx, path)
		return err
	})
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// SendMedia uploads the file at path (stickers are re-sent by reference and
// need no path) with attributes matching media and posts it to chat.
func (c *Client) SendMedia(ctx context.Context, to Chat, media *Media, path, caption string, entities []tg.MessageEntityClass) (int, error) {
	var input tg.InputMediaClass
	if media.Kind == MediaSticker && media.document != nil {
		input = &tg.InputMediaDocument{ID: media.document}
	} else {
		if path == "" {
			return 0, fmt.Errorf("media %s: nothing to upload", media.Kind)
		}
		var file tg.InputFileClass
		err := c.call(ctx, "upload", func(api *tg.Client) error {
			var err error
			file, err = uploader.NewUploader(api).FromPath(ctx, path)
			return err
		})
		if err != nil {
			return 0, err
		}
		input = inputMedia(file, media)
	}

	var updates tg.UpdatesClass
	err := c.call(ctx, "send media", func(api *tg.Client) error {
		var err error
		updates, err = api.MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
			Peer:     to.InputPeer(),
			Media:    input,
			Message:  caption,
			Entities: entities,
			RandomID: rand.Int64(),
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return sentMessageID(updates), nil
}

// SendText posts a text message and returns its id (0 if the reply carried none).
func (c *Client) SendText(ctx context.Context, to Chat, text string, entities []tg.MessageEntityClass) (int, error) {
	var updates tg.UpdatesClass
	err := c.call(ctx, "send message", func(api *tg.Client) error {
		var err error
		updates, err = api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
			Peer:      to.InputPeer(),
			Message:   text,
			Entities:  entities,
			RandomID:  rand.Int64(),
			NoWebpage: true,
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return sentMessageID(updates), nil
}

// Forward copies messages through telegram's own forward call.
func (c *Client) Forward(ctx context.Context, from Chat, ids []int, to Chat) error {
	randomIDs := make([]int64, len(ids))
	for i := range randomIDs {
		randomIDs[i] = rand.Int64()
	}

	return c.call(ctx, "forward", func(api *tg.Client) error {
		_, err := api.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
			FromPeer: from.InputPeer(),
			ID:       ids,
			RandomID: randomIDs,
			ToPeer:   to.InputPeer(),
		})
		return err
	})
}

// EditText replaces the text of a message. An identical text yields ErrNotModified.
func (c *Client) EditText(ctx context.Context, chat Chat, id int, text string, entities []tg.MessageEntityClass) error {
	return c.call(ctx, "edit message", func(api *tg.Client) error {
		_, err := api.MessagesEditMessage(ctx, &tg.MessagesEditMessageRequest{
			Peer:     chat.InputPeer(),
			ID:       id,
			Message:  text,
			Entities: entities,
		})
		return err
	})
}

// EditCaption replaces the caption of a media message.
func (c *Client) EditCaption(ctx context.Context, chat Chat, id int, caption string, entities []tg.MessageEntityClass) error {
	// captions live in the same message field as text
	return c.EditText(ctx, chat, id, caption, entities)
}

func sentMessageID(updates tg.UpdatesClass) int {
	var list []tg.UpdateClass
	switch u := updates.(type) {
	case *tg.UpdateShortSentMessage:
		return u.ID
	case *tg.Updates:
		list = u.Updates
	case *tg.UpdatesCombined:
		list = u.Updates
	}

	for _, upd := range list {
		switch v := upd.(type) {
		case *tg.UpdateMessageID:
			return v.ID
		case *tg.UpdateNewMessage:
			if m, ok := v.Message.(*tg.Message); ok {
				return m.ID
			}
		case *tg.UpdateNewChannelMessage:
			if m, ok := v.Message.(*tg.Message); ok {
				return m.ID
			}
		}
	}
	return 0
}

func messagesChats(res tg.MessagesChatsClass) []tg.ChatClass {
	switch v := res.(type) {
	case *tg.MessagesChats:
		return v.Chats
	case *tg.MessagesChatsSlice:
		return v.Chats
	}
	return nil
}

// chatsFromEntities converts chat and user entities; inaccessible ones are skipped.
func chatsFromEntities(chats []tg.ChatClass, users []tg.UserClass) []Chat {
	var out []Chat
	for _, ch := range chats {
		if chat, ok := chatFromChat(ch); ok {
			out = append(out, chat)
		}
	}
	for _, u := range users {
		if chat, ok := chatFromUser(u); ok {
			out = append(out, chat)
		}
	}
	return out
}

func chatFromChat(ch tg.ChatClass) (Chat, bool) {
	switch v := ch.(type) {
	case *tg.Chat:
		return Chat{
			ID:    MarkGroup(v.ID),
			Title: v.Title,
			Kind:  ChatGroup,
			peer:  &tg.InputPeerChat{ChatID: v.ID},
		}, true
	case *tg.Channel:
		if v.Min {
			return Chat{}, false
		}
		return Chat{
			ID:        MarkChannel(v.ID),
			Title:     v.Title,
			Kind:      ChatChannel,
			Username:  v.Username,
			Broadcast: v.Broadcast,
			peer:      &tg.InputPeerChannel{ChannelID: v.ID, AccessHash: v.AccessHash},
		}, true
	}
	return Chat{}, false
}

func chatFromUser(u tg.UserClass) (Chat, bool) {
	v, ok := u.(*tg.User)
	if !ok || v.Min {
		return Chat{}, false
	}

	chat := Chat{
		ID:       v.ID,
		Title:    strings.TrimSpace(v.FirstName + " " + v.LastName),
		Kind:     ChatUser,
		Username: v.Username,
		peer:     &tg.InputPeerUser{UserID: v.ID, AccessHash: v.AccessHash},
	}
	if v.Self {
		chat.peer = &tg.InputPeerSelf{}
	}
	return chat, true
}
