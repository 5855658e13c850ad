// ABOUTME: token subcommand that mints bearer tokens for the HTTP API
// ABOUTME: Signs with server.jwt_secret from the loaded config

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/HuMoN-Research-Lab/chatbot/internal/auth"
	"github.com/HuMoN-Research-Lab/chatbot/internal/config"
)

var (
	tokenName string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token signed with server.jwt_secret",
	Args:  cobra.NoArgs,
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "Operator the token is issued to (required)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 30*24*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("name")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Server.JWTSecret == "" {
		return fmt.Errorf("server.jwt_secret is not set; the API is unauthenticated")
	}
	if tokenTTL <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Server.JWTSecret))
	if err != nil {
		return err
	}
	token, err := verifier.Generate(tokenName, tokenTTL)
	if err != nil {
		return fmt.Errorf("signing token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
