package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/glebarez/sqlite"
	"github.com/gotd/td/session/tdesktop"
	"github.com/spf13/cobra"

	"github.com/blockedby/backupbot/internal/config"
)

var (
	tdataPath string
	phone     string
	sessionDB string
	printOnly bool
)

var rootCmd = &cobra.Command{
	Use:   "tg-auth",
	Short: "Log the backup bot account in and store the session",
	Long: `Log the backup bot account in and store the session.
Uses a Telegram Desktop session when one is found, otherwise phone login.
Phone logins are written to SESSION_DB so the bot can start without
USER_SESSION_STRING; the session string is printed either way.`,
	Args: cobra.NoArgs,
	RunE: runAuth,
}

func init() {
	rootCmd.Flags().StringVar(&tdataPath, "tdata", "", "Telegram Desktop tdata directory (default: platform location)")
	rootCmd.Flags().StringVarP(&phone, "phone", "p", "", "log in by phone number instead of tdata")
	rootCmd.Flags().StringVar(&sessionDB, "session-db", "", "session database (default: SESSION_DB)")
	rootCmd.Flags().BoolVar(&printOnly, "print-only", false, "only print the session string, keep it in memory")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAuth(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	reader := bufio.NewReader(os.Stdin)

	apiID, apiHash, err := apiCredentials(cfg, reader)
	if err != nil {
		return err
	}
	if sessionDB == "" {
		sessionDB = cfg.SessionDB
	}

	var client *gotgproto.Client
	if phone == "" {
		if accounts := desktopAccounts(cmd); len(accounts) > 0 {
			client, err = authWithTData(apiID, apiHash, pickAccount(accounts, reader))
		} else {
			fmt.Fprintln(cmd.ErrOrStderr(), "no telegram desktop session found, using phone login")
			phone = prompt(reader, "phone number (with country code, e.g. +1234567890): ")
		}
	}
	if client == nil && err == nil {
		client, err = authWithPhone(apiID, apiHash, phone)
	}
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer client.Stop()

	sessionString, err := client.ExportStringSession()
	if err != nil {
		return fmt.Errorf("export session: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n✓ logged in as %s (id %d)\n", displayName(client), client.Self.ID)
	if !printOnly {
		fmt.Fprintf(out, "session stored in %s\n", sessionDB)
	}
	fmt.Fprintln(out, "\nsession string (USER_SESSION_STRING, SESSION_FORMAT=gotgproto):")
	fmt.Fprintln(out, "---")
	fmt.Fprintln(out, sessionString)
	fmt.Fprintln(out, "---")
	fmt.Fprintln(out, "\n⚠️  keep this secret! it provides full access to your telegram account")
	return nil
}

func displayName(c *gotgproto.Client) string {
	if c.Self.Username != "" {
		return "@" + c.Self.Username
	}
	return strings.TrimSpace(c.Self.FirstName + " " + c.Self.LastName)
}

// defaultTDataPath returns the Telegram Desktop data directory for this OS
func defaultTDataPath() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Telegram Desktop", "tdata")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Telegram Desktop", "tdata")
	default:
		return filepath.Join(home, ".local", "share", "TelegramDesktop", "tdata")
	}
}

func desktopAccounts(cmd *cobra.Command) []tdesktop.Account {
	path := tdataPath
	if path == "" {
		path = defaultTDataPath()
	} else if !strings.HasSuffix(path, "tdata") {
		path = filepath.Join(path, "tdata")
	}

	accounts, err := tdesktop.Read(path, nil)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "tdata not readable at %s: %v\n", path, err)
		return nil
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "found %d telegram desktop account(s) at %s\n", len(accounts), path)
	return accounts
}

func pickAccount(accounts []tdesktop.Account, reader *bufio.Reader) tdesktop.Account {
	if len(accounts) == 1 {
		return accounts[0]
	}
	choice := prompt(reader, fmt.Sprintf("select account 1-%d [1]: ", len(accounts)))
	if n, err := strconv.Atoi(choice); err == nil && n >= 1 && n <= len(accounts) {
		return accounts[n-1]
	}
	return accounts[0]
}

// apiCredentials reads API_ID and API_HASH from config or prompts for them
func apiCredentials(cfg *config.Config, reader *bufio.Reader) (int, string, error) {
	apiID, apiHash := cfg.TGApiID, cfg.TGApiHash
	if apiID == 0 {
		id, err := strconv.Atoi(prompt(reader, "api_id (from https://my.telegram.org): "))
		if err != nil {
			return 0, "", fmt.Errorf("invalid api_id: %w", err)
		}
		apiID = id
	}
	if apiHash == "" {
		apiHash = prompt(reader, "api_hash: ")
	}
	return apiID, apiHash, nil
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

// authWithTData authenticates using a Telegram Desktop account. The
// desktop key is used in memory only; the session string is the output.
func authWithTData(apiID int, apiHash string, account tdesktop.Account) (*gotgproto.Client, error) {
	fmt.Println("authenticating with telegram desktop session...")
	printOnly = true

	return gotgproto.NewClient(apiID, apiHash, gotgproto.ClientTypePhone(""), &gotgproto.ClientOpts{
		Session:          sessionMaker.TdataSession(account).Name("tdata_session"),
		DisableCopyright: true,
		InMemory:         true,
	})
}

// authWithPhone authenticates using phone number (SMS/code) and keeps the
// session in SESSION_DB unless --print-only is set
func authWithPhone(apiID int, apiHash, phone string) (*gotgproto.Client, error) {
	fmt.Println("\nauthenticating... (check telegram for code)")

	if !printOnly {
		if err := os.MkdirAll(filepath.Dir(sessionDB), 0o700); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}
	}

	return gotgproto.NewClient(apiID, apiHash, gotgproto.ClientTypePhone(phone), &gotgproto.ClientOpts{
		Session:          sessionMaker.SqlSession(sqlite.Open(sessionDB)),
		DisableCopyright: true,
		InMemory:         printOnly,
	})
}
