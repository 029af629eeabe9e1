package pipeline

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfd-trader/internal/domain"
)

func TestFormatSummary(t *testing.T) {
	result := &RunResult{
		RunID: "20250303T120000Z",
		Outcomes: []Outcome{
			{Instrument: "FTSE 100", Signal: domain.SignalBuy, Sentiment: "N/A",
				GuardPre: "RG_OK", GuardPost: "RG2_OK", Action: "ORDER_DRY", Detail: "size=0.5"},
		},
	}

	text := FormatSummary(result)
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	require.Len(t, lines, 5) // header, rule, row, rule, total

	assert.Contains(t, lines[0], "Instrument")
	assert.Contains(t, lines[2], "FTSE 100")
	assert.Contains(t, lines[2], "ORDER_DRY")
	assert.Equal(t, "Total instruments processed: 1", lines[4])
}

func TestSummaryLineTruncatesOnRunes(t *testing.T) {
	// 30 runes of multibyte text in a 22-rune column must not be cut
	// mid-character.
	name := strings.Repeat("Ö", 30)
	line := summaryLine([]string{name, "BUY", "N/A", "RG_OK", "RG2_OK", "NO_ORDER", ""})

	assert.True(t, utf8.ValidString(line))
	first := strings.Split(line, " | ")[0]
	assert.Equal(t, 22, utf8.RuneCountInString(first))
	assert.Equal(t, strings.Repeat("Ö", 22), first)
}
