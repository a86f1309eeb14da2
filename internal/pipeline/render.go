package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/veriform/proofloop/internal/model"
)

// FormatReport renders a report in the requested format: "text",
// "json" or "markdown".
func FormatReport(report *model.Report, format string, verbose bool) (string, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return renderText(report, verbose), nil
	case "json":
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal report: %w", err)
		}
		return string(data) + "\n", nil
	case "markdown", "md":
		return renderMarkdown(report), nil
	default:
		return "", fmt.Errorf("unknown output format: %s (supported: text, json, markdown)", format)
	}
}

func renderText(report *model.Report, verbose bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Claim: %s\n", report.Claim.Text)
	fmt.Fprintf(&b, "Outcome: %s\n", report.Outcome())

	if report.Session != nil {
		fmt.Fprintf(&b, "Session: %s (%s, %d attempts)\n",
			report.Session.ID, report.Session.Status, len(report.Session.Attempts))
		if report.Session.AbortReason != "" {
			fmt.Fprintf(&b, "Abort reason: %s\n", report.Session.AbortReason)
		}
	}

	if report.Verdict != nil {
		fmt.Fprintf(&b, "Verdict: %s (confidence %.2f, %d/%d judges dissenting)\n",
			report.Verdict.Decision, report.Verdict.Confidence,
			len(report.Verdict.Dissenting), len(report.Verdict.Passes))
	}

	fmt.Fprintf(&b, "Elapsed: %s\n", report.Elapsed.Round(time.Millisecond))

	if verbose && report.Session != nil {
		b.WriteString("\nAttempts:\n")
		for _, attempt := range report.Session.Attempts {
			fmt.Fprintf(&b, "  %d. %s", attempt.Index, attempt.Verdict)
			if attempt.Diagnostics != "" {
				fmt.Fprintf(&b, " - %s", firstLine(attempt.Diagnostics))
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

func renderMarkdown(report *model.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Verification Report\n\n")
	fmt.Fprintf(&b, "**Claim:** %s\n\n", report.Claim.Text)
	fmt.Fprintf(&b, "**Outcome:** %s\n\n", report.Outcome())

	if len(report.FactSet.Premises) > 0 {
		b.WriteString("### Proof Target\n\n")
		for _, p := range report.FactSet.Premises {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		fmt.Fprintf(&b, "\n**Conclusion:** %s\n\n", report.FactSet.Conclusion)
	}

	if report.Session != nil {
		fmt.Fprintf(&b, "### Session `%s`\n\n", report.Session.ID)
		fmt.Fprintf(&b, "| # | Verdict | Diagnostics |\n|---|---------|-------------|\n")
		for _, attempt := range report.Session.Attempts {
			fmt.Fprintf(&b, "| %d | %s | %s |\n",
				attempt.Index, attempt.Verdict, firstLine(attempt.Diagnostics))
		}
		b.WriteString("\n")
	}

	if report.Verdict != nil {
		fmt.Fprintf(&b, "### Verdict: %s (%.2f)\n\n", report.Verdict.Decision, report.Verdict.Confidence)
		for _, pass := range report.Verdict.Passes {
			note := ""
			if pass.Error != "" {
				note = " (pass failed: " + firstLine(pass.Error) + ")"
			}
			fmt.Fprintf(&b, "- judge %d: %s %.2f%s\n", pass.Judge, pass.Decision, pass.Confidence, note)
		}
		b.WriteString("\n")
	}

	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
