package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/veriform/proofloop/internal/model"
	"github.com/veriform/proofloop/internal/pipeline"
)

var (
	outputFormat  string
	outputPath    string
	verifyTimeout time.Duration
	maxAttempts   int
	maxDuration   time.Duration
	judgeCount    int
	judgeWorkers  int
	llmProvider   string
	llmModel      string
	proverURL     string
	storePath     string
	transcriptDir string
	noCache       bool
)

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify <claim>",
	Short: "Verify a single claim through proof refinement and judging",
	Long: `Verify runs the full flow for one claim:
- Extract a proof target from the claim text
- Refine a formal proof against the theorem checker, feeding rejection
  diagnostics back into each correction attempt
- Judge the accepted proof with independent back-translation passes

Example:
  proofloop verify "every even integer greater than 2 below 100 is a sum of two primes"
  proofloop verify "..." --format json --output report.json
  proofloop verify "..." --llm-provider ollama --llm-model qwen2.5-coder
  proofloop verify "..." --store sessions.db --max-attempts 8`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	// Output flags
	verifyCmd.Flags().StringVar(&outputFormat, "format", "text", "output format (text, json, markdown)")
	verifyCmd.Flags().StringVar(&outputPath, "output", "", "write the report to a file instead of stdout")

	// Session flags
	verifyCmd.Flags().DurationVar(&verifyTimeout, "timeout", 15*time.Minute, "overall verification timeout")
	verifyCmd.Flags().IntVar(&maxAttempts, "max-attempts", 5, "proof attempts per session")
	verifyCmd.Flags().DurationVar(&maxDuration, "max-duration", 10*time.Minute, "wall-clock budget per session")
	verifyCmd.Flags().StringVar(&storePath, "store", "", "sqlite file for persistent session records (enables resume)")
	verifyCmd.Flags().StringVar(&transcriptDir, "transcript-dir", "", "directory for per-session JSONL attempt logs")
	verifyCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable fact-set and prover result caching")

	// Judge flags
	verifyCmd.Flags().IntVar(&judgeCount, "judges", 3, "judge passes per accepted proof (must be odd)")
	verifyCmd.Flags().IntVar(&judgeWorkers, "judge-concurrency", 3, "concurrent judge passes")

	// Backend flags
	verifyCmd.Flags().StringVar(&llmProvider, "llm-provider", "openai", "LLM provider (openai, anthropic, ollama)")
	verifyCmd.Flags().StringVar(&llmModel, "llm-model", "gpt-4o-mini", "LLM model name")
	verifyCmd.Flags().StringVar(&proverURL, "prover-url", "http://localhost:7117", "theorem checker daemon URL")
}

func runVerify(cmd *cobra.Command, args []string) error {
	claim := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
	defer cancel()

	cfg, err := buildConfig()
	if err != nil {
		return err
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "Claim: %s\n", claim)
		fmt.Fprintf(os.Stderr, "LLM: %s/%s\n", cfg.LLM.Provider, cfg.LLM.Model)
		fmt.Fprintf(os.Stderr, "Prover: %s\n", cfg.Prover.URL)
		fmt.Fprintf(os.Stderr, "Budget: %d attempts, %v\n", cfg.Session.MaxAttempts, cfg.Session.MaxDuration)
		fmt.Fprintln(os.Stderr)
	}

	p, err := pipeline.NewPipeline(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	report, err := p.Verify(ctx, claim)
	if err != nil && report == nil {
		return fmt.Errorf("verify failed: %w", err)
	}
	if err != nil {
		// An aborted session still produced a report worth showing.
		fmt.Fprintf(os.Stderr, "✗ verification did not complete: %v\n", err)
	}

	return writeReport(report, outputFormat, outputPath)
}

// buildConfig assembles configuration from flags and the environment.
func buildConfig() (*model.Config, error) {
	cfg := model.DefaultConfig()
	cfg.Session.MaxAttempts = maxAttempts
	cfg.Session.MaxDuration = maxDuration
	cfg.Session.TranscriptDir = transcriptDir
	cfg.Judge.Count = judgeCount
	cfg.Judge.ConcurrencyLimit = judgeWorkers
	cfg.LLM.Provider = llmProvider
	cfg.LLM.Model = llmModel
	cfg.Prover.URL = proverURL
	cfg.Cache.Enabled = !noCache
	cfg.Store.Path = storePath
	cfg.Output.Verbose = verbose

	// API keys come from the environment
	switch llmProvider {
	case "openai":
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		if cfg.LLM.APIKey == "" {
			return nil, errors.New("OPENAI_API_KEY environment variable not set")
		}
	case "anthropic", "claude":
		cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		if cfg.LLM.APIKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
		}
	case "ollama":
		// Ollama doesn't need an API key
		if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
			cfg.LLM.BaseURL = baseURL
		}
	}

	return cfg, nil
}

// writeReport renders the report to the output path or stdout.
func writeReport(report *model.Report, format, path string) error {
	out, err := pipeline.FormatReport(report, format, verbose)
	if err != nil {
		return err
	}

	if path == "" {
		fmt.Print(out)
		return nil
	}
	if err := os.WriteFile(path, []byte(out), 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "✓ Report written to %s\n", path)
	}
	return nil
}
