// ABOUTME: Subcommands that inspect the session archive and a running gateway
// ABOUTME: sessions and transcript read SQLite directly; health queries the HTTP API

package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/HuMoN-Research-Lab/chatbot/internal/config"
	"github.com/HuMoN-Research-Lab/chatbot/internal/store"
)

var (
	dbPath       string
	listLimit    int
	healthAddr   string
	healthTimeout time.Duration
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List archived sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSessions,
}

var transcriptCmd = &cobra.Command{
	Use:   "transcript <session-id>",
	Short: "Print the archived turns of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runTranscript,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check a running gateway's readiness",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

func init() {
	for _, cmd := range []*cobra.Command{sessionsCmd, transcriptCmd} {
		cmd.Flags().StringVar(&dbPath, "db", "", "Archive database (default: database.path from config)")
	}
	sessionsCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum sessions to list")
	healthCmd.Flags().StringVar(&healthAddr, "addr", "", "Gateway HTTP address (default: server.http_addr from config)")
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 5*time.Second, "Request timeout")
}

func openArchive() (*store.SQLiteStore, error) {
	path := dbPath
	if path == "" {
		cfg, err := config.Load(resolveConfigPath())
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		path = cfg.Database.Path
	}
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	return s, nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	s, err := openArchive()
	if err != nil {
		return err
	}
	defer s.Close()

	sessions, err := s.ListSessions(cmd.Context(), listLimit)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No archived sessions.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTHREAD\tPLATFORM\tVARIANT\tORIGIN\tCREATED\tSTATUS")
	for _, rec := range sessions {
		status := color.GreenString("open")
		if rec.ClosedAt != nil {
			status = color.HiBlackString("closed " + rec.ClosedAt.Local().Format(time.DateTime))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.ID, rec.ThreadID, rec.Platform, rec.Variant, rec.Origin,
			rec.CreatedAt.Local().Format(time.DateTime), status)
	}
	return tw.Flush()
}

func runTranscript(cmd *cobra.Command, args []string) error {
	s, err := openArchive()
	if err != nil {
		return err
	}
	defer s.Close()

	rec, err := s.GetSession(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("loading session %s: %w", args[0], err)
	}
	turns, err := s.GetSessionTurns(cmd.Context(), rec.ID, 0)
	if err != nil {
		return fmt.Errorf("loading turns: %w", err)
	}

	out := cmd.OutOrStdout()
	color.New(color.FgHiBlack).Fprintf(out, "%s session in thread %s (%s, %s)\n\n",
		rec.Variant, rec.ThreadID, rec.Platform, rec.CreatedAt.Local().Format(time.DateTime))

	human := color.New(color.FgGreen, color.Bold)
	bot := color.New(color.FgCyan, color.Bold)
	for _, t := range turns {
		if t.Role == store.TurnRoleAgent {
			bot.Fprint(out, "bot")
		} else {
			author := t.Author
			if author == "" {
				author = "human"
			}
			human.Fprint(out, author)
		}
		fmt.Fprintf(out, ": %s\n\n", t.Text)
	}
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	addr := healthAddr
	if addr == "" {
		cfg, err := config.Load(resolveConfigPath())
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		addr = cfg.Server.HTTPAddr
	}
	if addr == "" {
		return fmt.Errorf("no HTTP address: set server.http_addr or pass --addr")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}

	client := &http.Client{Timeout: healthTimeout}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, addr+"/health/ready", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("not ready: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(body)))
	return nil
}
