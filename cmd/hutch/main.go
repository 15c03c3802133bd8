package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/hutch/pkg/security"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hutch",
	Short: "Hutch - control plane for vibe-kanban workspace fleets",
	Long: `Hutch runs a multi-tenant fleet of vibe-kanban workspaces: it spawns
and supervises one child process per instance, routes each user's traffic
to their current instance through an authenticating reverse proxy, and
keeps AI agent credentials encrypted at rest.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Hutch version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(genkeyCmd)
}

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generate a credential encryption key",
	Long: `Generate a fresh 32-byte AES key, base64 encoded, for the
CONFIG_ENCRYPTION_KEY environment variable.

Rotating the key does not re-encrypt stored credentials: agent API keys
saved under the old key become undecryptable and must be re-entered.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := security.GenerateKey()
		if err != nil {
			return fmt.Errorf("failed to generate key: %v", err)
		}
		fmt.Println(key)
		return nil
	},
}
