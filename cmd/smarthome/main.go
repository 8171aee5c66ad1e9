// Smart Home Core
//
// This is the main entry point for the smart home controller. It loads the
// service configuration and the home file (devices and automation rules),
// then runs the rule monitor, the REST/WebSocket API and, optionally, an
// interactive console on stdin.
//
//	smarthome --config configs/config.yaml --console
//	smarthome validate --config configs/config.yaml
//	smarthome user add alice --role user < password.txt
//	smarthome version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on Ctrl+C and SIGTERM for a graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	var (
		configPath string
		console    bool
	)

	root := &cobra.Command{
		Use:   "smarthome",
		Short: "Home automation controller with a rule engine",
		Long: `smarthome runs the device registry, the automation rule monitor and
the REST/WebSocket API. Devices and rules are read from the home file named
by home.config_file in the service configuration.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), runOptions{
				configPath: resolveConfigPath(configPath),
				console:    console,
				in:         cmd.InOrStdin(),
				out:        cmd.OutOrStdout(),
			})
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to config.yaml (default $SMARTHOME_CONFIG or "+defaultConfigPath+")")
	root.Flags().BoolVar(&console, "console", false, "attach the interactive console to stdin")

	root.AddCommand(newValidateCmd(&configPath), newUserCmd(&configPath), newVersionCmd())
	return root
}

// newValidateCmd checks the configuration and the home file without starting anything.
func newValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and the home file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return validate(resolveConfigPath(*configPath), cmd.OutOrStdout())
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "smarthome %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// resolveConfigPath returns the configuration file path.
// The --config flag wins, then SMARTHOME_CONFIG, then the default.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv("SMARTHOME_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
