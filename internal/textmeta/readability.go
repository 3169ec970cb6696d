package textmeta

import (
	"math"
	"strconv"
)

type fleschConstants struct {
	base           float64
	sentenceFactor float64
	syllableFactor float64
}

var fleschTable = map[string]fleschConstants{
	"en": {base: 206.835, sentenceFactor: 1.015, syllableFactor: 84.6},
	"fr": {base: 207, sentenceFactor: 1.015, syllableFactor: 73.6},
}

var wordsPerMinute = map[string]float64{
	"en": 228,
	"fr": 195,
}

const defaultWordsPerMinute = 184

// ReadingEase computes the Flesch reading-ease score clamped to [0, 100].
func ReadingEase(st Stats, lang string) float64 {
	c, ok := fleschTable[lang]
	if !ok {
		c = fleschTable["en"]
	}
	if st.Words == 0 {
		return 0
	}
	sentences := st.Sentences
	if sentences < 1 {
		sentences = 1
	}

	score := c.base -
		c.sentenceFactor*(float64(st.Words)/float64(sentences)) -
		c.syllableFactor*(float64(st.Syllables)/float64(st.Words))
	return math.Min(100, math.Max(0, score))
}

// FormatReadability renders a score with two decimals.
func FormatReadability(score float64) string {
	return strconv.FormatFloat(score, 'f', 2, 64)
}

// ReadingSeconds estimates how long reading words takes in lang.
func ReadingSeconds(words int, lang string) int {
	wpm, ok := wordsPerMinute[lang]
	if !ok {
		wpm = defaultWordsPerMinute
	}
	return int(float64(words) / wpm * 60)
}

// PredictReadability is the readability detail value for text.
func PredictReadability(text, lang string) string {
	return FormatReadability(ReadingEase(Analyze(text, lang), lang))
}

// PredictDuration is the duration detail value for text, in seconds.
func PredictDuration(text, lang string) string {
	return strconv.Itoa(ReadingSeconds(len(Words(text)), lang))
}
