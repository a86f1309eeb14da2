package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/veriform/proofloop/internal/pipeline"
	"github.com/veriform/proofloop/internal/worker"
)

var (
	concurrency  int
	outputDir    string
	batchTimeout time.Duration
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Verify multiple claims from a file in parallel",
	Long: `Batch verifies multiple claims concurrently:
- Read claims from input file (one per line, '#' comments skipped)
- Run independent refinement sessions in parallel workers
- Share one rate limiter across all sessions and judge passes
- Write an individual report per claim

Example:
  proofloop batch claims.txt
  proofloop batch claims.txt --concurrency 4 --output-dir ./reports
  proofloop batch claims.txt --llm-provider ollama --timeout 30m`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	// Concurrency flags
	batchCmd.Flags().IntVar(&concurrency, "concurrency", 3, "number of concurrent sessions")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./proofloop-reports", "output directory for reports")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "total timeout for batch processing")

	// Shared session/backend flags
	batchCmd.Flags().StringVar(&outputFormat, "format", "json", "report format (text, json, markdown)")
	batchCmd.Flags().IntVar(&maxAttempts, "max-attempts", 5, "proof attempts per session")
	batchCmd.Flags().DurationVar(&maxDuration, "max-duration", 10*time.Minute, "wall-clock budget per session")
	batchCmd.Flags().IntVar(&judgeCount, "judges", 3, "judge passes per accepted proof (must be odd)")
	batchCmd.Flags().IntVar(&judgeWorkers, "judge-concurrency", 3, "concurrent judge passes")
	batchCmd.Flags().StringVar(&llmProvider, "llm-provider", "openai", "LLM provider (openai, anthropic, ollama)")
	batchCmd.Flags().StringVar(&llmModel, "llm-model", "gpt-4o-mini", "LLM model name")
	batchCmd.Flags().StringVar(&proverURL, "prover-url", "http://localhost:7117", "theorem checker daemon URL")
	batchCmd.Flags().StringVar(&storePath, "store", "", "sqlite file for persistent session records")
	batchCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable fact-set and prover result caching")
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	cfg, err := buildConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	p, err := pipeline.NewPipeline(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	fmt.Fprintf(os.Stderr, "⚙️  Reading claims from %s...\n", file)
	processor := worker.NewBatchProcessor(p, concurrency)
	results, err := processor.ProcessFile(ctx, file)
	if err != nil {
		return fmt.Errorf("process file: %w", err)
	}

	fmt.Fprintf(os.Stderr, "✓ Processed %d claims with %d workers\n\n", len(results), concurrency)

	successCount := 0
	failureCount := 0

	for i, result := range results {
		if result.Report == nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", result.Claim, result.Error)
			continue
		}
		if result.Error != nil {
			// Aborted sessions still carry a partial report.
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", result.Claim, result.Error)
		} else {
			successCount++
			fmt.Fprintf(os.Stderr, "✓ %s: %s\n", result.Claim, result.Report.Outcome())
		}

		path := filepath.Join(outputDir, reportFilename(i, result.Claim, outputFormat))
		if err := writeReport(result.Report, outputFormat, path); err != nil {
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", result.Claim, err)
		}
	}

	fmt.Fprintf(os.Stderr, "\nTotal: %d  Success: %d  Failures: %d  Output: %s\n",
		len(results), successCount, failureCount, outputDir)

	return nil
}

// reportFilename derives a stable filename from the claim text.
func reportFilename(index int, claim, format string) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == ' ', r == '-', r == '_':
			return '-'
		default:
			return -1
		}
	}, claim)
	if len(slug) > 60 {
		slug = slug[:60]
	}
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "claim"
	}

	ext := "txt"
	switch strings.ToLower(format) {
	case "json":
		ext = "json"
	case "markdown", "md":
		ext = "md"
	}
	return fmt.Sprintf("%03d-%s.%s", index+1, slug, ext)
}
