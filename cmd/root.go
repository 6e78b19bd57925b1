package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "qqbridge",
	Short: "qqbridge — bridge QQ bot accounts to an agent host over OneBot v11",
	Long: "qqbridge connects QQ bot accounts (OneBot v11 over WebSocket) to a\n" +
		"reply-producing agent host. It normalizes inbound messages, applies\n" +
		"trigger rules, resolves media and references, and routes the host's\n" +
		"replies back as chunked, formatted QQ messages.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version
}
