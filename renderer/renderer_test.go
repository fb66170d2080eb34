package renderer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRenderer(charsPerLine int) (*Renderer, *[]string, *[]string) {
	var l1, l2 []string
	r := New(Config{ShowAudioTags: true, CharsPerLine: charsPerLine},
		func(s string) { l1 = append(l1, s) },
		func(s string) { l2 = append(l2, s) },
	)
	return r, &l1, &l2
}

func TestPreFilterDropsBlankShortAndHallucination(t *testing.T) {
	r, _, _ := newTestRenderer(80)

	_, ok := r.preFilter("   ")
	require.False(t, ok)

	_, ok = r.preFilter("a")
	require.False(t, ok)

	_, ok = r.preFilter("Thank you.")
	require.False(t, ok)

	_, ok = r.preFilter("thank you")
	require.False(t, ok)

	out, ok := r.preFilter("hello")
	require.True(t, ok)
	require.Equal(t, "hello", out)
}

func TestPreFilterStripsAudioTagsWhenDisabled(t *testing.T) {
	r := New(Config{ShowAudioTags: false, CharsPerLine: 80}, nil, nil)

	out, ok := r.preFilter("[music] hello there")
	require.True(t, ok)
	require.Equal(t, "hello there", out)
}

func TestPreFilterKeepsAudioTagsWhenEnabled(t *testing.T) {
	r := New(Config{ShowAudioTags: true, CharsPerLine: 80}, nil, nil)

	out, ok := r.preFilter("[music] hello there")
	require.True(t, ok)
	require.Equal(t, "[music] hello there", out)
}

func TestPreFilterMasksProfanity(t *testing.T) {
	r := New(Config{ShowAudioTags: true, FilterProfanity: true, CharsPerLine: 80}, nil, nil)

	out, ok := r.preFilter("what the hell is that")
	require.True(t, ok)
	require.Equal(t, "what the *** is that", out)
}

type upperTranslator struct{}

func (upperTranslator) Translate(text string) string { return strings.ToUpper(text) }

func TestPreFilterAppliesTranslationHook(t *testing.T) {
	r := New(Config{ShowAudioTags: true, CharsPerLine: 80, Translator: upperTranslator{}}, nil, nil)

	out, ok := r.preFilter("hello there")
	require.True(t, ok)
	require.Equal(t, "HELLO THERE", out)
}

func TestMergeAnchorSplicesOverlap(t *testing.T) {
	history := strings.Fields("the quick brown fox jumps over")
	addition := strings.Fields("fox jumps over the lazy dog")

	got := merge(history, addition)
	require.Equal(t, "the quick brown fox jumps over the lazy dog", strings.Join(got, " "))
}

func TestMergeSuffixPrefixFallback(t *testing.T) {
	history := strings.Fields("good morning every")
	addition := strings.Fields("everyone here today")

	got := merge(history, addition)
	// No anchor of length >= 2 matches; suffix/prefix overlap is empty too
	// since "every" != "everyone" under comparison form, so this falls
	// through to a plain concatenation.
	require.Equal(t, "good morning every everyone here today", strings.Join(got, " "))
}

func TestMergeSuffixPrefixExactWordOverlap(t *testing.T) {
	history := strings.Fields("see you later")
	addition := strings.Fields("later alligator")

	got := merge(history, addition)
	require.Equal(t, "see you later alligator", strings.Join(got, " "))
}

func TestMergeNoOverlapConcatenates(t *testing.T) {
	history := strings.Fields("hello world")
	addition := strings.Fields("completely different text")

	got := merge(history, addition)
	require.Equal(t, "hello world completely different text", strings.Join(got, " "))
}

func TestMergeIgnoresPunctuationAndCase(t *testing.T) {
	history := strings.Fields(`He said, "Hello world."`)
	addition := strings.Fields("hello world it is nice out")

	got := merge(history, addition)
	// "Hello world." in history comparison-folds to ["hello","world"],
	// matching the first two words of addition as a 2-word anchor.
	require.Equal(t, `He said, hello world it is nice out`, strings.Join(got, " "))
}

func TestMergeEmptyHistory(t *testing.T) {
	got := merge(nil, strings.Fields("hello there"))
	require.Equal(t, "hello there", strings.Join(got, " "))
}

func TestWrapGreedyPacksWords(t *testing.T) {
	lines := wrap(strings.Fields("the quick brown fox jumps over the lazy dog"), 10)
	for _, l := range lines {
		require.LessOrEqual(t, len(l), 10)
	}
	require.Equal(t, "the quick brown fox jumps over the lazy dog", strings.Join(lines, " "))
}

func TestWrapZeroWidthReturnsSingleLine(t *testing.T) {
	lines := wrap(strings.Fields("a b c"), 0)
	require.Equal(t, []string{"a b c"}, lines)
}

func TestOnTextSingleLineLayout(t *testing.T) {
	r, l1, l2 := newTestRenderer(80)

	r.OnText("hello world", false)

	require.Equal(t, []string{"hello world"}, *l1)
	require.Equal(t, []string{" "}, *l2)
}

func TestOnTextTwoLineBlockSnapReducesFlicker(t *testing.T) {
	r, l1, l2 := newTestRenderer(20)

	r.OnText("the quick brown fox jumps over the lazy dog", true)
	firstLine1 := (*l1)[len(*l1)-1]

	// A small revision that re-wraps line boundaries slightly but keeps
	// the same prefix should NOT change the rendered top line.
	r.OnText("extra", false)
	secondLine1 := (*l1)[len(*l1)-1]

	require.Equal(t, firstLine1, secondLine1, "pinned_line1 should suppress flicker when it remains a prefix")
	require.NotEmpty(t, (*l2)[len(*l2)-1])
}

func TestOnTextFinalCapsHistoryAtMaxLines(t *testing.T) {
	r, _, _ := newTestRenderer(5)

	words := []string{"apple", "bravo", "charl", "delta", "eccho", "foxtr", "gulfy"}
	for _, w := range words {
		r.OnText(w, true)
	}

	lines := wrap(r.history, r.cfg.CharsPerLine)
	require.LessOrEqual(t, len(lines), MaxHistoryLines)
	// The oldest committed words should have been dropped.
	require.NotContains(t, r.History(), "apple")
}

func TestOnTextNonFinalDoesNotMutateHistory(t *testing.T) {
	r, _, _ := newTestRenderer(80)

	r.OnText("hello world", true)
	before := r.History()

	r.OnText("hello world extra stuff", false)

	require.Equal(t, before, r.History())
}

func TestCompareFormStripsPunctuation(t *testing.T) {
	require.Equal(t, "hello", compareForm(`"Hello,`))
	require.Equal(t, "world", compareForm(`world!"`))
}

func TestSetCharsPerLine(t *testing.T) {
	r, _, _ := newTestRenderer(10)
	r.SetCharsPerLine(40)
	require.Equal(t, 40, r.cfg.CharsPerLine)
}
