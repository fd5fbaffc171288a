package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bobarin/fragment/internal/app"
)

func Main() {
	_ = godotenv.Load() // best-effort: load .env if present

	root := &cobra.Command{
		Use:          "fragment",
		Short:        "Generate narrated explainer videos from a topic",
		Version:      app.Version,
		SilenceUsage: true,
	}

	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	root.SilenceErrors = true

	root.AddCommand(newGenerateCmd(), newPlanCmd(), newEventsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// addRequestFlags registers the generation request flags shared by subcommands.
func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("duration", "d", 60, "Target video length in seconds")
	cmd.Flags().StringArrayP("key-point", "k", nil, "Key point to cover (repeatable, in order)")
	cmd.Flags().String("style", "educational", "Visual and narration style")
}
