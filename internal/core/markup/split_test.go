package markup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitMessage_Short(t *testing.T) {
	assert.Nil(t, SplitMessage("", 100))
	assert.Equal(t, []string{"hello"}, SplitMessage("hello", 100))
}

func TestSplitMessage_PrefersParagraphBoundary(t *testing.T) {
	text := strings.Repeat("a", 50) + "\n\n" + strings.Repeat("b", 80)
	parts := SplitMessage(text, 100)

	require.Len(t, parts, 2)
	assert.Equal(t, strings.Repeat("a", 50), parts[0])
	assert.Equal(t, strings.Repeat("b", 80), parts[1])
}

func TestSplitMessage_FallsBackToLine(t *testing.T) {
	text := strings.Repeat("a", 60) + "\n" + strings.Repeat("b", 60)
	parts := SplitMessage(text, 100)

	require.Len(t, parts, 2)
	assert.Equal(t, strings.Repeat("a", 60), parts[0])
	assert.Equal(t, strings.Repeat("b", 60), parts[1])
}

func TestSplitMessage_HardCut(t *testing.T) {
	text := strings.Repeat("x", 250)
	parts := SplitMessage(text, 100)

	require.Len(t, parts, 3)
	assert.Equal(t, 100, len(parts[0]))
	assert.Equal(t, 100, len(parts[1]))
	assert.Equal(t, 50, len(parts[2]))
}

func TestSplitMessage_NoRuneSplit(t *testing.T) {
	text := strings.Repeat("é", 100) // 2 bytes each
	parts := SplitMessage(text, 101)

	for _, p := range parts {
		assert.True(t, strings.HasPrefix(p, "é"), "part must start on a rune boundary")
		assert.Zero(t, len(p)%2, "no torn runes")
	}
}

func TestSplitMessage_ReopensQuoteAcrossParts(t *testing.T) {
	body := strings.Repeat("q", 150)
	text := WrapQuote(body)
	parts := SplitMessage(text, 100)

	require.GreaterOrEqual(t, len(parts), 2)
	for i, p := range parts {
		opens := strings.Count(p, QuoteOpen)
		closes := strings.Count(p, QuoteClose)
		assert.Equal(t, opens, closes, "part %d must be self-contained", i)
	}
}
