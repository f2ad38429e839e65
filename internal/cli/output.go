// Package cli renders answers, processing reports and history for the kaiwa command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const sourcePreviewLen = 160

// ParseFormat returns the output format named by s. Empty means text.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// WriteAnswer writes answer to w in the given format. showSources adds the cited
// chunks to text output; JSON output always includes them.
func WriteAnswer(w io.Writer, answer *models.Answer, format OutputFormat, showSources bool) error {
	if format == OutputJSON {
		return writeJSON(w, answer)
	}
	if _, err := fmt.Fprintln(w, strings.TrimSpace(answer.Text)); err != nil {
		return err
	}
	if !showSources || len(answer.Sources) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Sources:")
	for i, src := range answer.Sources {
		name := src.DocumentName
		if name == "" {
			name = "document"
		}
		fmt.Fprintf(w, "  [%d] %s @%d (score %.4f)\n", i+1, name, src.Offset, src.Score)
		fmt.Fprintf(w, "      %s\n", utils.Truncate(utils.OneLine(src.Text), sourcePreviewLen))
	}
	return nil
}

// WriteReport writes a processing report to w in the given format.
func WriteReport(w io.Writer, report *models.ProcessReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	fmt.Fprintf(w, "Processed %d document(s): %d page(s), %d characters, %d chunks (%d dims) in %s\n",
		report.Documents, report.Pages, report.Characters, report.Chunks, report.Dimensions, report.Duration.Round(1e6))
	for _, f := range report.Failed {
		fmt.Fprintf(w, "  skipped %s: %s\n", f.DocumentName, f.Reason)
	}
	return nil
}

// WriteHistory writes the conversation turns to w in the given format.
func WriteHistory(w io.Writer, turns []models.Turn, format OutputFormat) error {
	if format == OutputJSON {
		if turns == nil {
			turns = []models.Turn{}
		}
		return writeJSON(w, turns)
	}
	if len(turns) == 0 {
		_, err := fmt.Fprintln(w, "(no history)")
		return err
	}
	for _, t := range turns {
		prefix := "you"
		if t.Role == models.RoleAssistant {
			prefix = "bot"
		}
		fmt.Fprintf(w, "%s> %s\n", prefix, t.Message)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
