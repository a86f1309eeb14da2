package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/veriform/proofloop/internal/pipeline"
	"github.com/veriform/proofloop/internal/store"
)

// resumeCmd represents the resume command
var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume an interrupted proof session",
	Long: `Resume continues a persisted refinement session from its last recorded
attempt. The session's remaining budget still applies: attempts already
recorded count against max-attempts, and the wall-clock budget is
measured from the original start time. Sessions already in a terminal
state are reported as-is.

Requires the --store the session was originally recorded in.

Example:
  proofloop resume 4f6b2c1a-... --store sessions.db
  proofloop sessions --store sessions.db`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

// sessionsCmd represents the sessions command
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List persisted proof sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessions,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(sessionsCmd)

	resumeCmd.Flags().StringVar(&storePath, "store", "", "sqlite file holding the session (required)")
	resumeCmd.Flags().StringVar(&outputFormat, "format", "text", "output format (text, json, markdown)")
	resumeCmd.Flags().StringVar(&outputPath, "output", "", "write the report to a file instead of stdout")
	resumeCmd.Flags().DurationVar(&verifyTimeout, "timeout", 15*time.Minute, "overall timeout")
	resumeCmd.Flags().IntVar(&judgeCount, "judges", 3, "judge passes per accepted proof (must be odd)")
	resumeCmd.Flags().IntVar(&judgeWorkers, "judge-concurrency", 3, "concurrent judge passes")
	resumeCmd.Flags().StringVar(&llmProvider, "llm-provider", "openai", "LLM provider (openai, anthropic, ollama)")
	resumeCmd.Flags().StringVar(&llmModel, "llm-model", "gpt-4o-mini", "LLM model name")
	resumeCmd.Flags().StringVar(&proverURL, "prover-url", "http://localhost:7117", "theorem checker daemon URL")

	sessionsCmd.Flags().StringVar(&storePath, "store", "", "sqlite file holding the sessions (required)")
}

func runResume(cmd *cobra.Command, args []string) error {
	sessionID := args[0]
	if storePath == "" {
		return errors.New("--store is required to resume a session")
	}

	ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
	defer cancel()

	cfg, err := buildConfig()
	if err != nil {
		return err
	}

	p, err := pipeline.NewPipeline(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	report, err := p.Resume(ctx, sessionID)
	if err != nil && report == nil {
		return fmt.Errorf("resume failed: %w", err)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ session did not complete: %v\n", err)
	}

	return writeReport(report, outputFormat, outputPath)
}

func runSessions(cmd *cobra.Command, args []string) error {
	if storePath == "" {
		return errors.New("--store is required to list sessions")
	}

	s, err := store.Open(storePath)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	summaries, err := s.ListSessions()
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("no sessions recorded")
		return nil
	}

	fmt.Printf("%-38s %-10s %8s  %s\n", "SESSION", "STATUS", "ATTEMPTS", "STARTED")
	for _, summary := range summaries {
		fmt.Printf("%-38s %-10s %8d  %s\n",
			summary.ID, summary.Status, summary.Attempts,
			summary.StartedAt.Local().Format(time.RFC3339))
	}
	return nil
}
