package textmeta

import (
	_ "embed"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed stopwords.yaml
var stopwordsYAML []byte

var (
	stopwordsOnce sync.Once
	stopwordSets  map[string]map[string]struct{}
)

func loadStopwords() {
	raw := map[string][]string{}
	if err := yaml.Unmarshal(stopwordsYAML, &raw); err != nil {
		panic("textmeta: embedded stopwords are malformed: " + err.Error())
	}
	stopwordSets = make(map[string]map[string]struct{}, len(raw))
	for lang, words := range raw {
		set := make(map[string]struct{}, len(words))
		for _, w := range words {
			set[strings.ToLower(w)] = struct{}{}
		}
		stopwordSets[lang] = set
	}
}

// IsStopword reports whether word is a stop word of lang; unknown languages fall back
// to English.
func IsStopword(word, lang string) bool {
	stopwordsOnce.Do(loadStopwords)
	set, ok := stopwordSets[lang]
	if !ok {
		set = stopwordSets["en"]
	}
	_, stop := set[strings.ToLower(word)]
	return stop
}
