package markup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvert_Inline(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "bold",
			in:   "a **bold** word",
			want: "a <b>bold</b> word",
		},
		{
			name: "italic",
			in:   "an *italic* word",
			want: "an <i>italic</i> word",
		},
		{
			name: "snake_case untouched",
			in:   "call some_func_name here",
			want: "call some_func_name here",
		},
		{
			name: "inline code keeps raw content",
			in:   "run `a < b && c` now",
			want: "run <code>a &lt; b &amp;&amp; c</code> now",
		},
		{
			name: "html escaped outside code",
			in:   "1 < 2 & 3 > 2",
			want: "1 &lt; 2 &amp; 3 &gt; 2",
		},
		{
			name: "link",
			in:   "see [docs](https://example.com/a?b=1) here",
			want: `see <a href="https://example.com/a?b=1">docs</a> here`,
		},
		{
			name: "heading",
			in:   "## Results",
			want: "<b>Results</b>",
		},
		{
			name: "bold inside code span untouched",
			in:   "`**not bold**`",
			want: "<code>**not bold**</code>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Convert(tt.in))
		})
	}
}

func TestConvert_FencedCode(t *testing.T) {
	in := "before\n```go\nx := 1 < 2\n```\nafter"
	want := "before\n<pre>x := 1 &lt; 2</pre>\nafter"
	assert.Equal(t, want, Convert(in))
}

func TestConvert_UnterminatedFence(t *testing.T) {
	in := "```\nhalf open"
	assert.Equal(t, "<pre>half open</pre>", Convert(in))
}

func TestConvert_SentinelRegion(t *testing.T) {
	in := "head\n" + WrapQuote("long <output>") + "\ntail"
	got := Convert(in)

	assert.Contains(t, got, "<blockquote expandable>long &lt;output&gt;</blockquote>")
	assert.Contains(t, got, "head")
	assert.Contains(t, got, "tail")
	assert.NotContains(t, got, QuoteOpen)
	assert.NotContains(t, got, QuoteClose)
}

func TestConvert_QuoteNotMarkdownConverted(t *testing.T) {
	// Markdown inside a quote region is shown verbatim, not converted.
	got := Convert(WrapQuote("**stars stay**"))
	assert.Contains(t, got, "**stars stay**")
	assert.NotContains(t, got, "<b>")
}

func TestConvert_QuoteBudget(t *testing.T) {
	body := strings.Repeat("x", QuoteBudget+500)
	got := Convert(WrapQuote(body))

	assert.Contains(t, got, "… (truncated)")
	inner := strings.TrimSuffix(strings.TrimPrefix(got, "<blockquote expandable>"), "</blockquote>")
	assert.LessOrEqual(t, len(inner), QuoteBudget)
}

func TestConvert_UnbalancedOpen(t *testing.T) {
	got := Convert("text " + QuoteOpen + "dangling")
	assert.Contains(t, got, "<blockquote expandable>dangling</blockquote>")
}

func TestStripSentinels(t *testing.T) {
	in := "a" + QuoteOpen + "b" + QuoteClose + "c"
	assert.Equal(t, "abc", StripSentinels(in))
	assert.True(t, HasSentinels(in))
	assert.False(t, HasSentinels("abc"))
}
