package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/blockedby/backupbot/internal/logger"
	"github.com/blockedby/backupbot/internal/telegram"
)

// HandlerFunc serves one command.
type HandlerFunc func(ctx context.Context, req *Request) error

// Middleware wraps a HandlerFunc.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain applies m so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// Route describes one chat command.
type Route struct {
	Name        string
	Aliases     []string
	Usage       string // argument synopsis shown in help
	Description string
	Handle      HandlerFunc
}

// Request is one command invocation.
type Request struct {
	In     telegram.Incoming
	UserID int64 // who issued the command
	Cmd    Command

	bot *Bot
}

// Reply sends text to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) (int, error) {
	return r.bot.reply(ctx, r.In.ChatID, text)
}

// Replyf is Reply with formatting.
func (r *Request) Replyf(ctx context.Context, format string, args ...any) (int, error) {
	return r.Reply(ctx, fmt.Sprintf(format, args...))
}

// router maps command names and aliases to routes.
type router struct {
	routes []Route
	byName map[string]*Route
}

func newRouter(routes []Route) *router {
	r := &router{routes: routes, byName: make(map[string]*Route)}
	for i := range r.routes {
		route := &r.routes[i]
		r.byName[route.Name] = route
		for _, alias := range route.Aliases {
			r.byName[alias] = route
		}
	}
	return r
}

func (r *router) find(name string) (*Route, bool) {
	route, ok := r.byName[name]
	return route, ok
}

// help renders the command list in declaration order.
func (r *router) help() string {
	var b strings.Builder
	b.WriteString("🤖 Backup bot commands\n")
	for _, route := range r.routes {
		names := append([]string{route.Name}, route.Aliases...)
		for i := range names {
			names[i] = "/" + names[i]
		}
		b.WriteString("\n")
		b.WriteString(strings.Join(names, ", "))
		if route.Usage != "" {
			b.WriteString(" " + route.Usage)
		}
		b.WriteString("\n   " + route.Description)
	}
	return b.String()
}

// MWRecover turns a handler panic into an error.
func MWRecover(log *logger.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("stack", string(debug.Stack())).
						Str("cmd", req.Cmd.Name).
						Msg("bot: panic recovered")
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// MWRequestLog logs every command with its duration.
func MWRequestLog(log *logger.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)

			ev := log.Debug()
			if err != nil {
				ev = log.Warn().Err(err)
			}
			ev.Str("cmd", req.Cmd.Name).
				Int64("chat_id", req.In.ChatID).
				Int64("user_id", req.UserID).
				Dur("dur", time.Since(start)).
				Msg("bot: command handled")
			return err
		}
	}
}
