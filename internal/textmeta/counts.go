package textmeta

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	wordExpr     = regexp.MustCompile(`(?i)[\p{L}\p{N}]+(?:['’](?:t|s|d|ve|ll|re))?`)
	sentenceExpr = regexp.MustCompile(`\b[^.!?]+[.!?]*`)
)

// minSentenceWords is the shortest sentence kept by Sentences.
const minSentenceWords = 3

// Words splits text into words, keeping English contraction suffixes attached.
func Words(text string) []string {
	return wordExpr.FindAllString(text, -1)
}

// Sentences returns the sentences of text; fragments of two words or fewer are dropped.
func Sentences(text string) []string {
	var out []string
	for _, s := range sentenceExpr.FindAllString(text, -1) {
		s = strings.TrimSpace(s)
		if len(Words(s)) < minSentenceWords {
			continue
		}
		out = append(out, s)
	}
	return out
}

// SentenceCount is len(Sentences) floored at 1.
func SentenceCount(text string) int {
	if n := len(Sentences(text)); n > 0 {
		return n
	}
	return 1
}

const fallbackVowels = "aeiouyàáâãäåæèéêëìíîïòóôõöøùúûüýÿœ"

// Syllables counts the syllables of a word with the hyphenation patterns of lang.
// Languages without patterns fall back to counting vowel groups.
func Syllables(word, lang string) int {
	w := strings.ToLower(word)
	if i := strings.IndexAny(w, "'’"); i > 0 {
		w = w[:i]
	}
	if w == "" {
		return 1
	}
	if h, ok := hyphenator(lang); ok {
		return hyphenSyllables(h, w)
	}
	return vowelGroups(w)
}

// vowelGroups estimates syllables by counting vowel groups.
func vowelGroups(w string) int {
	groups := 0
	inVowel := false
	for _, r := range w {
		if !unicode.IsLetter(r) {
			inVowel = false
			continue
		}
		isVowel := strings.ContainsRune(fallbackVowels, r)
		if isVowel && !inVowel {
			groups++
		}
		inVowel = isVowel
	}
	if groups < 1 {
		return 1
	}
	return groups
}

// Stats are the counts behind the readability and duration figures.
type Stats struct {
	Words     int
	Sentences int
	Syllables int
}

// Analyze counts words, sentences and syllables of text in lang.
func Analyze(text, lang string) Stats {
	words := Words(text)
	st := Stats{Words: len(words), Sentences: SentenceCount(text)}
	for _, w := range words {
		st.Syllables += Syllables(w, lang)
	}
	return st
}
