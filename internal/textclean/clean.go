// Package textclean holds the heuristics applied to extracted text before it is stored.
package textclean

import (
	"regexp"
	"strings"
	"unicode"
)

var ligatures = strings.NewReplacer(
	"ﬀ", "ff",
	"ﬁ", "fi",
	"ﬂ", "fl",
	"ﬃ", "ffi",
	"ﬄ", "ffl",
	"ﬅ", "ft",
	"ﬆ", "st",
	"ꜳ", "aa",
)

const spacingAccents = "´`ˆ˜¸˚¨˝˛˙ˇ˘"

var (
	isolatedAccent  = regexp.MustCompile(`(^|\s)[` + spacingAccents + `\p{Mn}]+(\s|$)`)
	hyphenLineBreak = regexp.MustCompile(`(\S)-[ \t]*\r?\n[ \t]*(\S+)`)
	whitespaceRun   = regexp.MustCompile(`\s+`)
)

// ReplaceLigatures swaps typographic ligature codepoints for their ASCII letters.
func ReplaceLigatures(text string) string {
	return ligatures.Replace(text)
}

// RemoveIsolatedAccents drops spacing accents and combining marks that stand alone
// between whitespace, as PDF extraction leaves them.
func RemoveIsolatedAccents(text string) string {
	// Two passes so adjacent isolated accents sharing a space are both removed.
	for i := 0; i < 2; i++ {
		text = isolatedAccent.ReplaceAllString(text, "$1$2")
	}
	return text
}

// JoinHyphenated glues words split by a line-trailing hyphen: "well-\nknown" becomes
// "wellknown\n". A real dash at the end of a line is joined as well.
func JoinHyphenated(text string) string {
	return hyphenLineBreak.ReplaceAllString(text, "${1}${2}\n")
}

// CollapseWhitespace turns every whitespace run into one space and trims the ends.
func CollapseWhitespace(text string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
}

// StripNonPrintable removes control and format characters; other spaces become ' '.
func StripNonPrintable(text string) string {
	return strings.Map(printable, text)
}

// JoinTokens rewrites every line as its whitespace separated tokens joined by one space.
func JoinTokens(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.Join(lines, "\n")
}

// CleanPDFPage applies the page-level cleaning of extracted PDF text.
func CleanPDFPage(page string) string {
	text := JoinTokens(page)
	text = ReplaceLigatures(text)
	text = RemoveIsolatedAccents(text)
	text = JoinHyphenated(text)
	return CollapseWhitespace(text)
}

// Clean is the generic normalization every extractor applies to free text.
func Clean(text string) string {
	text = StripNonPrintable(text)
	text = ReplaceLigatures(text)
	text = RemoveIsolatedAccents(text)
	text = JoinHyphenated(text)
	return CollapseWhitespace(text)
}

// Line collapses text meant for a single line, like titles.
func Line(text string) string {
	return CollapseWhitespace(StripNonPrintable(text))
}

func printable(r rune) rune {
	switch {
	case r == '\n' || r == '\t':
		return r
	case unicode.IsSpace(r):
		return ' '
	case unicode.IsPrint(r):
		return r
	default:
		return -1
	}
}
