package anonymize

import (
	"regexp"
	"strings"
)

// NameMatch selects how strictly the record's own name is matched inside free
// text. Word mode requires delimiter boundaries on both sides; substring mode
// removes any occurrence.
type NameMatch int

const (
	NameMatchWord NameMatch = iota
	NameMatchSubstring
)

var (
	// trailing "#76" style record-id suffix on titles
	reTitleID = regexp.MustCompile(`\s*#\d+\s*$`)
	// "#76" or long digit runs anywhere, for certification names
	reInlineID = regexp.MustCompile(`#\d+|\d{6,}`)
	reEmail    = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	rePhone    = regexp.MustCompile(`\+?\d[\d\s\-()]{6,}\d`)
	// 5+ digit runs: badge and employee serials embedded in job titles
	reDigitRun = regexp.MustCompile(`\d{5,}`)
	// first-person mentions in soft-skill prose
	rePronoun = regexp.MustCompile(`(?i)\b(I|me|my)\b`)
	reSpaces  = regexp.MustCompile(`\s+`)
)

// span marks a byte range to remove. Layout matches the detector span shape
// used by classifier pipelines: start inclusive, end exclusive, UTF-8 offsets.
type span struct {
	start, end int
	label      string
}

// ContentSanitizer strips identifying fragments from free text: trailing
// record ids on titles, mentions of the record's own name, embedded contact
// patterns, and 5+ digit serial runs. Rules that do not match are no-ops;
// output is never longer than the input.
type ContentSanitizer struct {
	nameMatch NameMatch
}

func NewContentSanitizer(mode NameMatch) *ContentSanitizer {
	return &ContentSanitizer{nameMatch: mode}
}

// CleanTitle strips a trailing "#<number>" record-id suffix.
func (c *ContentSanitizer) CleanTitle(title string) string {
	return strings.TrimSpace(reTitleID.ReplaceAllString(title, ""))
}

// CleanInlineIDs removes "#<number>" markers and 6+ digit runs anywhere in
// the text. Used for certification names, which embed issuer serials.
func (c *ContentSanitizer) CleanInlineIDs(s string) string {
	out := reInlineID.ReplaceAllString(s, "")
	if out == s {
		return s
	}
	return strings.TrimSpace(reSpaces.ReplaceAllString(out, " "))
}

// Clean removes identifying fragments from free text. personName, when
// non-empty, is the record's own name field; its mentions are stripped
// according to the configured match mode.
func (c *ContentSanitizer) Clean(text, personName string) string {
	var spans []span
	spans = append(spans, regexSpans(text, reEmail, "EMAIL")...)
	spans = append(spans, regexSpans(text, rePhone, "PHONE")...)
	spans = append(spans, c.nameSpans(text, personName)...)

	out := text
	if len(spans) > 0 {
		spans = validSpans(text, spans, c.nameMatch == NameMatchWord)
		sortSpansDesc(spans)
		spans = dedupeSpans(spans)
		for _, sp := range spans {
			out = out[:sp.start] + " " + out[sp.end:]
		}
	}
	// Long digit runs too short for the phone pattern (badge numbers) go after
	// span removal so they never compete with an overlapping phone span.
	out = reDigitRun.ReplaceAllString(out, " ")
	if out == text {
		// Rule 1 may still apply on its own.
		return c.CleanTitle(text)
	}
	out = strings.TrimSpace(reSpaces.ReplaceAllString(out, " "))
	return c.CleanTitle(out)
}

// ScrubPronouns replaces first-person mentions with a neutral marker.
func (c *ContentSanitizer) ScrubPronouns(s string) string {
	return rePronoun.ReplaceAllString(s, "[person]")
}

func regexSpans(text string, re *regexp.Regexp, label string) []span {
	var out []span
	for _, m := range re.FindAllStringIndex(text, -1) {
		out = append(out, span{start: m[0], end: m[1], label: label})
	}
	return out
}

// nameSpans locates case-insensitive occurrences of the person's name.
func (c *ContentSanitizer) nameSpans(text, personName string) []span {
	name := strings.TrimSpace(personName)
	if name == "" {
		return nil
	}
	lower := strings.ToLower(text)
	needle := strings.ToLower(name)
	var out []span
	for from := 0; ; {
		i := strings.Index(lower[from:], needle)
		if i < 0 {
			break
		}
		start := from + i
		out = append(out, span{start: start, end: start + len(needle), label: "NAME"})
		from = start + len(needle)
	}
	return out
}

// wordBoundaryBytes are bytes that delimit tokens/words.
var wordBoundaryBytes = func() [256]bool {
	var t [256]bool
	for _, b := range []byte(" \t\n\r.,:;!?<>()[]{}\"'`") {
		t[b] = true
	}
	return t
}()

func isWordBoundaryByte(b byte) bool { return wordBoundaryBytes[b] }

// validSpans drops spans with invalid offsets or that split a UTF-8 rune.
// When wordBounded is set, name spans landing mid-word are rejected too, so a
// name that is a substring of a longer token survives.
func validSpans(text string, spans []span, wordBounded bool) []span {
	out := make([]span, 0, len(spans))
	for _, sp := range spans {
		if sp.start < 0 || sp.end > len(text) || sp.start >= sp.end {
			continue
		}
		if !isRuneBoundary(text, sp.start) || !isRuneBoundary(text, sp.end) {
			continue
		}
		if sp.label == "NAME" && wordBounded {
			if sp.start > 0 && !isWordBoundaryByte(text[sp.start-1]) {
				continue
			}
			if sp.end < len(text) && !isWordBoundaryByte(text[sp.end]) {
				continue
			}
		}
		out = append(out, sp)
	}
	return out
}

// dedupeSpans removes overlapping spans (assumes sorted descending by start).
func dedupeSpans(spans []span) []span {
	out := make([]span, 0, len(spans))
	lastStart := -1
	for _, sp := range spans {
		if lastStart == -1 || sp.end <= lastStart {
			out = append(out, sp)
			lastStart = sp.start
		}
	}
	return out
}

func isRuneBoundary(s string, i int) bool {
	if i == 0 || i == len(s) {
		return true
	}
	return s[i]&0xC0 != 0x80
}

func sortSpansDesc(spans []span) {
	for i := 1; i < len(spans); i++ {
		for j := i; j > 0 && spans[j].start > spans[j-1].start; j-- {
			spans[j], spans[j-1] = spans[j-1], spans[j]
		}
	}
}
