package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var summaryHeaders = []string{"Instrument", "Signal", "Sentiment", "RG(pre)", "RG(post)", "Action", "Detail"}
var summaryWidths = []int{22, 8, 12, 16, 18, 12, 40}

// FormatSummary renders the end-of-run table.
func FormatSummary(result *RunResult) string {
	var b strings.Builder
	b.WriteString(summaryLine(summaryHeaders))
	b.WriteString("\n")
	b.WriteString(strings.Repeat("-", 80))
	b.WriteString("\n")
	for _, o := range result.Outcomes {
		b.WriteString(summaryLine([]string{
			o.Instrument, string(o.Signal), o.Sentiment, o.GuardPre, o.GuardPost, o.Action, o.Detail,
		}))
		b.WriteString("\n")
	}
	b.WriteString(strings.Repeat("-", 80))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Total instruments processed: %d\n", len(result.Outcomes)))
	return b.String()
}

func summaryLine(cells []string) string {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		w := summaryWidths[i]
		// Truncate on runes so a multibyte instrument name is never split
		// mid-character.
		if runes := []rune(cell); len(runes) > w {
			cell = string(runes[:w])
		}
		parts[i] = fmt.Sprintf("%-*s", w, cell)
	}
	return strings.Join(parts, " | ")
}

// writeSummary persists the table next to the ledger when a summary
// directory is configured.
func (p *Pipeline) writeSummary(result *RunResult) error {
	text := FormatSummary(result)
	p.log.Info().Str("run_id", result.RunID).Msg("run complete\n" + text)

	if p.summaryDir == "" {
		return nil
	}
	if err := os.MkdirAll(p.summaryDir, 0o755); err != nil {
		return fmt.Errorf("create summary dir: %w", err)
	}
	path := filepath.Join(p.summaryDir, fmt.Sprintf("summary_%s.txt", result.RunID))
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
