package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blockedby/backupbot/internal/config"
	"github.com/blockedby/backupbot/internal/database"
	"github.com/blockedby/backupbot/internal/logger"
	"github.com/blockedby/backupbot/internal/msgref"
	"github.com/blockedby/backupbot/internal/resolve"
	"github.com/blockedby/backupbot/internal/telegram"
)

var (
	filter string
	kind   string
	hint   int64
)

var rootCmd = &cobra.Command{
	Use:   "tg-chats",
	Short: "Inspect the chats visible to the backup bot account",
	Long: `Inspect the chats visible to the backup bot account.
Uses the same configuration and session as the bot, so the ids printed
here are the ones DESTINATION_CHANNEL and the bot commands expect.`,
	SilenceUsage: true,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List dialogs with their marked ids",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve [link]",
	Short: "Resolve a message link the way the bot does",
	Long: `Resolve a message link the way the bot does.
Accepts t.me/c/<id>/<range>, t.me/<username>/<range> or a bare range
together with --hint.`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	listCmd.Flags().StringVarP(&filter, "filter", "f", "", "only chats whose title or username contains this text")
	listCmd.Flags().StringVarP(&kind, "kind", "k", "", "only chats of this kind: user, group, channel")
	resolveCmd.Flags().Int64Var(&hint, "hint", 0, "marked id of a chat to fall back to")

	rootCmd.AddCommand(listCmd, resolveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// connect logs in with the bot's session and returns a ready client.
func connect(ctx context.Context, cfg *config.Config) (*telegram.Client, func(), error) {
	if err := logger.Init("warn", ""); err != nil {
		return nil, nil, err
	}

	db, err := database.New(ctx, cfg.SessionDB)
	if err != nil {
		return nil, nil, err
	}

	manager := telegram.NewManager(cfg, db.GORM)
	if err := manager.Init(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	if manager.GetStatus() != telegram.StatusReady {
		db.Close()
		return nil, nil, errors.New("no telegram session, run tg-auth first")
	}

	client := telegram.NewClient(manager)
	return client, func() {
		client.Close()
		db.Close()
	}, nil
}

func runList(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	client, closeFn, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	chats, err := client.Dialogs(ctx)
	if err != nil {
		return fmt.Errorf("list dialogs: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-16s | %-8s | %-40s | %s\n", "id", "kind", "title", "username")
	fmt.Fprintln(out, strings.Repeat("-", 90))

	shown := 0
	needle := strings.ToLower(filter)
	for _, c := range chats {
		if kind != "" && string(c.Kind) != kind {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(c.Title), needle) &&
			!strings.Contains(strings.ToLower(c.Username), needle) {
			continue
		}

		title := c.Title
		if len([]rune(title)) > 40 {
			title = string([]rune(title)[:37]) + "..."
		}
		username := ""
		if c.Username != "" {
			username = "@" + c.Username
		}
		fmt.Fprintf(out, "%-16d | %-8s | %-40s | %s\n", c.ID, c.Kind, title, username)
		shown++
	}

	fmt.Fprintf(out, "\n%d of %d dialogs\n", shown, len(chats))
	return nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	link, err := msgref.ParseTarget(args[0], cfg.MaxBatch)
	if err != nil {
		return fmt.Errorf("parse %q: %w", args[0], err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, closeFn, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	chat, err := resolve.New(client, logger.Get().Component("resolve")).Resolve(ctx, link, hint)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "chat:     %s (%d, %s)\n", chat.Title, chat.ID, chat.Kind)
	fmt.Fprintf(out, "messages: %d (%d..%d)\n", len(link.IDs), link.IDs[0], link.IDs[len(link.IDs)-1])
	if link.TopicID != 0 {
		fmt.Fprintf(out, "topic:    %d\n", link.TopicID)
	}
	return nil
}
