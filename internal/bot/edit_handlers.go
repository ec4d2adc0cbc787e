package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/blockedby/backupbot/internal/captions"
)

func (b *Bot) session(user int64) *captions.Session {
	return b.sessions.GetOrCreate(user, b.presets.Default())
}

func (b *Bot) handleEdit(ctx context.Context, req *Request) error {
	if len(req.Cmd.Args) == 0 {
		_, err := req.Reply(ctx, "❌ Usage: /edit <link-or-range>")
		return err
	}

	link, ok := b.parseTarget(ctx, req, req.Cmd.Args[0])
	if !ok {
		return nil
	}
	chat, ok := b.resolveFor(ctx, req, link)
	if !ok {
		return nil
	}

	s := b.session(req.UserID)
	added, err := s.AddTargets(chat, link.IDs)
	if errors.Is(err, captions.ErrBusy) {
		_, err = req.Reply(ctx, "⚠️ "+err.Error())
		return err
	}
	if err != nil {
		return err
	}

	_, err = req.Replyf(ctx, "🎯 Added %d messages from %s (%d total).\nAdd rules with /rule search -> replacement, then /done.",
		added, chat.Title, len(s.Targets()))
	return err
}

func (b *Bot) handleRule(ctx context.Context, req *Request) error {
	rule, err := captions.ParseRule(req.Cmd.ArgText)
	if err != nil {
		_, err = req.Replyf(ctx, "❌ %v\nUsage: /rule <search> -> <replacement>", err)
		return err
	}

	s := b.session(req.UserID)
	if err := s.AddRule(rule); err != nil {
		_, err = req.Reply(ctx, "⚠️ "+err.Error())
		return err
	}
	_, err = req.Reply(ctx, "📝 Added rule "+rule.String()+"\n\n"+formatRules(s.Rules()))
	return err
}

func (b *Bot) handleRules(ctx context.Context, req *Request) error {
	var rules captions.Rules
	if s, ok := b.sessions.Get(req.UserID); ok {
		rules = s.Rules()
	}
	_, err := req.Reply(ctx, formatRules(rules))
	return err
}

func (b *Bot) handleDone(ctx context.Context, req *Request) error {
	s := b.session(req.UserID)
	if err := s.Done(); err != nil {
		_, err = req.Reply(ctx, "⚠️ "+err.Error())
		return err
	}

	preset := s.Preset()
	targets := s.Targets()
	chats := map[string]bool{}
	var names []string
	for _, t := range targets {
		if !chats[t.Chat.Title] {
			chats[t.Chat.Title] = true
			names = append(names, t.Chat.Title)
		}
	}

	_, err := req.Replyf(ctx, "📋 Ready to edit %d messages in %s\n\n%s\n\n🚦 Speed: %s\nSend /confirm to start or /cancel to discard.",
		len(targets), strings.Join(names, ", "), formatRules(s.Rules()), preset)
	return err
}

func (b *Bot) handleConfirm(ctx context.Context, req *Request) error {
	s := b.session(req.UserID)
	stop, err := s.Begin()
	if err != nil {
		_, err = req.Reply(ctx, "⚠️ "+err.Error())
		return err
	}

	msgID, err := req.Replyf(ctx, "✏️ Editing %d messages at %s speed…", len(s.Targets()), s.Preset().Name)
	if err != nil {
		s.Cancel()
		s.Finish(captions.EditStats{Stopped: true, Final: true})
		return err
	}
	status := &statusMessage{b: b, chatID: req.In.ChatID, msgID: msgID}

	b.edits.Add(1)
	go func() {
		defer b.edits.Done()
		b.editor.Run(ctx, s, stop, func(st captions.EditStats) {
			status.set(formatEditStats(st))
		})
	}()
	return nil
}

func (b *Bot) handleSpeed(ctx context.Context, req *Request) error {
	s := b.session(req.UserID)
	if len(req.Cmd.Args) == 0 {
		_, err := req.Reply(ctx, formatPresets(b.presets.All(), s.Preset().Name))
		return err
	}

	name := strings.ToLower(req.Cmd.Args[0])
	preset, err := b.presets.Get(name)
	if err != nil {
		_, err = req.Reply(ctx, fmt.Sprintf("❌ %v\n\n", err)+formatPresets(b.presets.All(), s.Preset().Name))
		return err
	}
	s.SetPreset(preset)
	_, err = req.Reply(ctx, "🚦 Speed set to "+preset.String())
	return err
}
