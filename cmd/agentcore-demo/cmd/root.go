package cmd

import (
	"github.com/spf13/cobra"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "agentcore-demo",
	Short: "Exercise the agent capability and protocol evolution core",
	Long: `agentcore-demo wires a capability registry, negotiation fallback
policy, variant lifecycle store, and governance instance together and runs
them against a temporary storage directory.

Examples:
  # Run the full demo: register agents, negotiate, propose, vote, adopt
  agentcore-demo run

  # Run against a persistent storage directory instead of a temp one
  agentcore-demo run --storage-path ./data

  # Load component configuration from a YAML file
  agentcore-demo run --config ./agentcore.yaml
`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML configuration file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

// SetVersion sets build-time version metadata, wired from -ldflags.
func SetVersion(v, bt, gc string) {
	version = v
	buildTime = bt
	gitCommit = gc
}
