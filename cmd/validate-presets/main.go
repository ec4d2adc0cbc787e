package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blockedby/backupbot/internal/captions"
)

var rootCmd = &cobra.Command{
	Use:   "validate-presets [file...]",
	Short: "Check speed preset files before deploying them",
	Long: `Check speed preset files before deploying them.
Every file is loaded the way the bot loads PRESETS_FILE; the resulting
preset table is printed for valid files.`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         runValidate,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	failed := 0
	for _, path := range args {
		presets, err := captions.LoadPresets(path)
		if err != nil {
			fmt.Fprintf(out, "❌ %s: %v\n", path, err)
			failed++
			continue
		}

		fmt.Fprintf(out, "✅ %s is valid (default: %s)\n", path, presets.Default().Name)
		for _, p := range presets.All() {
			fmt.Fprintf(out, "   %s\n", p)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files invalid", failed, len(args))
	}
	return nil
}
