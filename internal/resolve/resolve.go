// Package resolve maps message-link chat references to accessible chats.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/blockedby/backupbot/internal/logger"
	"github.com/blockedby/backupbot/internal/msgref"
	"github.com/blockedby/backupbot/internal/telegram"
)

// ErrNeedSample means no strategy found the chat; a forwarded sample
// message from it will let the next attempt succeed.
var ErrNeedSample = errors.New("chat not found, forward any message from it and retry")

// Chats is the lookup surface the resolver needs.
type Chats interface {
	GetChat(ctx context.Context, id int64) (telegram.Chat, error)
	ResolveUsername(ctx context.Context, username string) (telegram.Chat, error)
	Dialogs(ctx context.Context) ([]telegram.Chat, error)
}

// Resolver finds the chat behind a link, best effort.
type Resolver struct {
	chats Chats
	log   *logger.Logger
}

// New creates a Resolver.
func New(chats Chats, log *logger.Logger) *Resolver {
	return &Resolver{chats: chats, log: log}
}

// Resolve returns the chat a link points at.
// hint is the marked id of a chat the user forwarded from earlier, 0 if none.
// A bare range expression resolves to the hint.
func (r *Resolver) Resolve(ctx context.Context, link msgref.Link, hint int64) (telegram.Chat, error) {
	if link.Username != "" {
		chat, err := r.chats.ResolveUsername(ctx, link.Username)
		if err != nil {
			return telegram.Chat{}, fmt.Errorf("resolve @%s: %w", link.Username, err)
		}
		return chat, nil
	}

	if link.IsBare() {
		if hint == 0 {
			return telegram.Chat{}, ErrNeedSample
		}
		return r.chats.GetChat(ctx, hint)
	}

	fragment := link.ChatFragment

	for _, candidate := range msgref.Candidates(fragment) {
		id, err := strconv.ParseInt(candidate, 10, 64)
		if err != nil {
			continue
		}
		chat, err := r.chats.GetChat(ctx, id)
		if err == nil {
			r.log.Debug().Str("fragment", fragment).Int64("chat_id", chat.ID).Msg("resolve: direct lookup")
			return chat, nil
		}
		if ctx.Err() != nil {
			return telegram.Chat{}, ctx.Err()
		}
		if _, flood := telegram.AsFloodWait(err); flood {
			return telegram.Chat{}, err
		}
	}

	if chat, ok := r.scanDialogs(ctx, fragment); ok {
		return chat, nil
	}

	if hint != 0 && strings.Contains(normalized(hint), fragment) {
		if chat, err := r.chats.GetChat(ctx, hint); err == nil {
			r.log.Debug().Str("fragment", fragment).Int64("chat_id", chat.ID).Msg("resolve: forwarded sample")
			return chat, nil
		}
	}

	r.log.Warn().Str("fragment", fragment).Msg("resolve: chat not found")
	return telegram.Chat{}, ErrNeedSample
}

// scanDialogs matches the fragment against the account's dialog list:
// exact normalized id first, then any id containing it.
func (r *Resolver) scanDialogs(ctx context.Context, fragment string) (telegram.Chat, bool) {
	dialogs, err := r.chats.Dialogs(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("resolve: dialog scan failed")
		return telegram.Chat{}, false
	}

	for _, chat := range dialogs {
		if normalized(chat.ID) == fragment {
			r.log.Debug().Str("fragment", fragment).Int64("chat_id", chat.ID).Msg("resolve: dialog exact match")
			return chat, true
		}
	}
	for _, chat := range dialogs {
		if strings.Contains(normalized(chat.ID), fragment) {
			r.log.Debug().Str("fragment", fragment).Int64("chat_id", chat.ID).Msg("resolve: dialog partial match")
			return chat, true
		}
	}
	return telegram.Chat{}, false
}

func normalized(id int64) string {
	return msgref.Normalize(strconv.FormatInt(id, 10))
}
