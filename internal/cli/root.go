// Package cli implements the agentd command tree.
package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCmd creates the root agentd command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agentd",
		Short: "Deep agent execution service",
		Long: `agentd runs autonomous agent sessions in isolated Kubernetes sandboxes.

Available subcommands:
  serve       Run the API server
  agents      Manage agent definitions
  sessions    Inspect sessions

Examples:
  agentd serve --config /etc/deepagents/config.yaml
  agentd agents list
  agentd agents import researcher.yaml
  agentd sessions list`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("server", "http://localhost:8080", "API server address for client commands")

	viper.SetEnvPrefix("DEEPAGENTS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlag("server", cmd.PersistentFlags().Lookup("server"))

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewAgentsCmd())
	cmd.AddCommand(NewSessionsCmd())

	return cmd
}
