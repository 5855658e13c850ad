// ABOUTME: Entry point for the chatbot gateway
// ABOUTME: Cobra root command with serve, archive inspection and health subcommands

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "chatbot",
	Short: "Thread-based AI chat bot for Discord and Matrix",
	Long: `chatbot starts an AI conversation in a thread when someone asks for one,
keeps one live session per thread, and rebuilds a session's memory from the
thread history after a restart or eviction.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $CHATBOT_CONFIG or $XDG_CONFIG_HOME/chatbot/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(transcriptCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

// resolveConfigPath returns the config file to load.
// Priority: --config > CHATBOT_CONFIG > XDG_CONFIG_HOME/chatbot/config.yaml > ~/.config/chatbot/config.yaml
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("CHATBOT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "chatbot", "config.yaml")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
