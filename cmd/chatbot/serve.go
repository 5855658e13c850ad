// ABOUTME: serve subcommand that runs the gateway until interrupted
// ABOUTME: Prints the startup banner and wires configuration into the gateway

package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/HuMoN-Research-Lab/chatbot/internal/config"
	"github.com/HuMoN-Research-Lab/chatbot/internal/gateway"
)

const banner = `
      _           _   _           _
  ___| |__   __ _| |_| |__   ___ | |_
 / __| '_ \ / _' | __| '_ \ / _ \| __|
| (__| | | | (_| | |_| |_) | (_) | |_
 \___|_| |_|\__,_|\__|_.__/ \___/ \__|
`

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to the chat platform and serve conversations",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	path := resolveConfigPath()
	out := cmd.OutOrStdout()

	cyan := color.New(color.FgCyan)
	cyan.Fprint(out, banner)
	gray := color.New(color.FgHiBlack)
	gray.Fprintf(out, "    version: %s\n\n", version)

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Config:    %s\n", path)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Platform:  %s\n", cfg.Platform)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Model:     %s/%s\n", cfg.Model.Provider, cfg.Model.Name)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Archive:   %s\n", cfg.Database.Path)
	if cfg.Server.HTTPAddr != "" {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	fmt.Fprintln(out)

	logger.Info("starting chatbot",
		"config", path,
		"platform", cfg.Platform,
		"provider", cfg.Model.Provider,
		"model", cfg.Model.Name,
	)

	gw, err := gateway.New(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(cmd.Context())
}
