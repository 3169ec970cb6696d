package textmeta

import (
	"embed"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/speedata/hyphenation"
)

//go:embed hyphen/*.pat.txt
var patternFiles embed.FS

var patternFileByLang = map[string]string{
	"de": "hyphen/de.pat.txt",
	"en": "hyphen/en-us.pat.txt",
	"es": "hyphen/es.pat.txt",
	"fr": "hyphen/fr.pat.txt",
	"it": "hyphen/it.pat.txt",
	"pt": "hyphen/pt.pat.txt",
}

// Breaks closer than this to either end of a word are ignored, as in TeX's
// \lefthyphenmin and \righthyphenmin for English.
const (
	hyphenMinPrefix = 2
	hyphenMinSuffix = 3
)

var (
	hyphenOnce  sync.Once
	hyphenators map[string]*hyphenation.Lang
)

func loadHyphenators() {
	hyphenators = make(map[string]*hyphenation.Lang, len(patternFileByLang))
	for lang, name := range patternFileByLang {
		f, err := patternFiles.Open(name)
		if err != nil {
			panic("textmeta: missing hyphenation patterns " + name + ": " + err.Error())
		}
		l, err := hyphenation.New(f)
		_ = f.Close()
		if err != nil {
			panic("textmeta: hyphenation patterns " + name + " are malformed: " + err.Error())
		}
		hyphenators[lang] = l
	}
}

// hyphenator returns the pattern set for lang, or false when lang has none.
func hyphenator(lang string) (*hyphenation.Lang, bool) {
	hyphenOnce.Do(loadHyphenators)
	l, ok := hyphenators[strings.ToLower(lang)]
	return l, ok
}

// hyphenSyllables counts the hyphenation points of a lowercase word plus one.
func hyphenSyllables(l *hyphenation.Lang, word string) int {
	n := utf8.RuneCountInString(word)
	count := 1
	for _, p := range l.Hyphenate(word) {
		if p >= hyphenMinPrefix && p <= n-hyphenMinSuffix {
			count++
		}
	}
	return count
}
