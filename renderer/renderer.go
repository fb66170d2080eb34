// Package renderer turns the segmenter's (text, final) event stream into a
// stable two-line display, merging overlapping revisions and wrapping text
// at a caller-supplied width. A Renderer is built to be driven from a
// single logical thread; it holds no internal locking of its own.
package renderer

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

const (
	// MaxHistoryLines is the number of wrapped lines of committed history
	// kept around; older lines are dropped once exceeded.
	MaxHistoryLines = 4
	// anchorSearchWindow bounds how far back into history the overlap
	// anchor search looks.
	anchorSearchWindow = 100
	// maxAnchorLen is the largest anchor length tried first.
	maxAnchorLen = 5
)

var fold = cases.Fold()

// Translator is an opaque text transform hook, e.g. a machine-translation
// backend. Implementations: translate.GeminiTranslator.
type Translator interface {
	Translate(text string) string
}

// Config holds the renderer's display preferences. CharsPerLine is a
// mutable property: the owning UI recomputes it whenever window width or
// font size changes and calls SetCharsPerLine; the renderer never computes
// it itself.
type Config struct {
	ShowAudioTags   bool
	FilterProfanity bool
	CharsPerLine    int
	Translator      Translator
}

// defaultProfanityBlacklist is a small, fixed word list; real deployments
// would likely load this from configuration, but the spec calls for a
// fixed blacklist.
var defaultProfanityBlacklist = []string{"damn", "hell", "crap", "bastard"}

var (
	bracketTagRE = regexp.MustCompile(`\[.*?\]`)
	parenTagRE   = regexp.MustCompile(`\(.*?\)`)
)

const musicGlyph = "♪"

func stripAudioTags(s string) string {
	s = bracketTagRE.ReplaceAllString(s, "")
	s = parenTagRE.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, musicGlyph, "")
	return strings.Join(strings.Fields(s), " ")
}

func buildProfanityRE(blacklist []string) *regexp.Regexp {
	escaped := make([]string, len(blacklist))
	for i, w := range blacklist {
		escaped[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(escaped, "|") + `)\b`)
}

// Renderer is the OutputRenderer described by spec.md §4.4.
type Renderer struct {
	cfg         Config
	profanityRE *regexp.Regexp
	history     []string
	pinnedLine1 string
	setLine1    func(string)
	setLine2    func(string)
}

// New constructs a Renderer. setLine1/setLine2 are the UI-facing
// line-setter callbacks; either may be nil.
func New(cfg Config, setLine1, setLine2 func(string)) *Renderer {
	return &Renderer{
		cfg:         cfg,
		profanityRE: buildProfanityRE(defaultProfanityBlacklist),
		setLine1:    setLine1,
		setLine2:    setLine2,
	}
}

// SetCharsPerLine updates the wrap width; see §4.4.5.
func (r *Renderer) SetCharsPerLine(n int) {
	r.cfg.CharsPerLine = n
}

// History returns the current committed history as a single string, mostly
// useful for tests and diagnostics.
func (r *Renderer) History() string {
	return strings.Join(r.history, " ")
}

func isKnownHallucination(s string) bool {
	t := strings.TrimSpace(s)
	return strings.EqualFold(t, "thank you") || strings.EqualFold(t, "thank you.")
}

// preFilter implements spec.md §4.4.1.
func (r *Renderer) preFilter(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", false
	}
	if len([]rune(trimmed)) < 2 {
		return "", false
	}
	if isKnownHallucination(trimmed) {
		return "", false
	}

	out := trimmed
	if !r.cfg.ShowAudioTags {
		out = stripAudioTags(out)
		if strings.TrimSpace(out) == "" {
			return "", false
		}
	}
	if r.cfg.FilterProfanity {
		out = r.profanityRE.ReplaceAllString(out, "***")
	}
	if r.cfg.Translator != nil {
		out = r.cfg.Translator.Translate(out)
	}

	return out, true
}

// OnText implements the on_text(text, final) contract: idempotent with
// respect to rendering, intended to be called from a single logical
// thread.
func (r *Renderer) OnText(text string, final bool) {
	filtered, ok := r.preFilter(text)
	if !ok {
		return
	}
	addition := strings.Fields(filtered)

	merged := merge(r.history, addition)
	lines := wrap(merged, r.cfg.CharsPerLine)

	if final {
		if len(lines) > MaxHistoryLines {
			lines = lines[len(lines)-MaxHistoryLines:]
		}
		r.history = strings.Fields(strings.Join(lines, " "))
	}

	r.renderLayout(lines)
}

// compareForm builds the punctuation-stripped, case-insensitive comparison
// form of a word per spec.md §4.4.2 step 1.
func compareForm(w string) string {
	w = fold.String(w)
	w = strings.TrimRight(w, `.,?!"'`)
	w = strings.TrimLeft(w, `"'`)
	return w
}

// merge implements spec.md §4.4.2.
func merge(history, addition []string) []string {
	n, m := len(history), len(addition)
	if n == 0 {
		return append([]string{}, addition...)
	}
	if m == 0 {
		return append([]string{}, history...)
	}

	historyComp := make([]string, n)
	for i, w := range history {
		historyComp[i] = compareForm(w)
	}
	additionComp := make([]string, m)
	for i, w := range addition {
		additionComp[i] = compareForm(w)
	}

	searchStart := 0
	if n > anchorSearchWindow {
		searchStart = n - anchorSearchWindow
	}

	maxK := maxAnchorLen
	if m < maxK {
		maxK = m
	}
	if n < maxK {
		maxK = n
	}

	bestI, bestK := -1, 0
	for k := maxK; k >= 2; k-- {
		for i := n - k; i >= searchStart; i-- {
			if wordSlicesEqual(historyComp[i:i+k], additionComp[:k]) {
				if i > bestI || (i == bestI && k > bestK) {
					bestI, bestK = i, k
				}
			}
		}
	}

	if bestI >= 0 {
		result := make([]string, 0, bestI+m)
		result = append(result, history[:bestI]...)
		result = append(result, addition...)
		return result
	}

	maxSuffixK := n
	if m < maxSuffixK {
		maxSuffixK = m
	}
	for k := maxSuffixK; k >= 1; k-- {
		if wordSlicesEqual(historyComp[n-k:], additionComp[:k]) {
			result := make([]string, 0, n+m-k)
			result = append(result, history...)
			result = append(result, addition[k:]...)
			return result
		}
	}

	result := make([]string, 0, n+m)
	result = append(result, history...)
	result = append(result, addition...)
	return result
}

func wordSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// wrap greedily word-wraps words into lines no wider than width. A single
// word longer than width is still emitted as its own (overlong) line,
// since wrapping never splits a word.
func wrap(words []string, width int) []string {
	if len(words) == 0 {
		return nil
	}
	if width <= 0 {
		return []string{strings.Join(words, " ")}
	}

	var lines []string
	cur := ""
	for _, w := range words {
		candidate := w
		if cur != "" {
			candidate = cur + " " + w
		}
		if cur == "" || len(candidate) <= width {
			cur = candidate
			continue
		}
		lines = append(lines, cur)
		cur = w
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

// renderLayout implements spec.md §4.4.4.
func (r *Renderer) renderLayout(lines []string) {
	var line1, line2 string

	switch {
	case len(lines) == 0:
		line1, line2 = "", ""
	case len(lines) == 1:
		line1, line2 = lines[0], ""
	default:
		target1 := lines[len(lines)-2]
		target2 := lines[len(lines)-1]

		if r.pinnedLine1 != "" && strings.HasPrefix(fold.String(target1), fold.String(r.pinnedLine1)) {
			line1 = r.pinnedLine1
		} else {
			r.pinnedLine1 = target1
			line1 = target1
		}
		line2 = target2
	}

	r.emit(normalizeBlank(line1), normalizeBlank(line2))
}

func normalizeBlank(s string) string {
	if s == "" {
		return " "
	}
	return s
}

func (r *Renderer) emit(line1, line2 string) {
	if r.setLine1 != nil {
		r.setLine1(line1)
	}
	if r.setLine2 != nil {
		r.setLine2(line2)
	}
}
