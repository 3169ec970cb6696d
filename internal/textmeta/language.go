package textmeta

import (
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
)

// detectSample bounds how much text the detector reads.
const detectSample = 20000

// Language is a detection verdict.
type Language struct {
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// Comparison is stored under details.content_and_description_lang.
type Comparison struct {
	AreDifferent bool     `json:"are_different"`
	Description  Language `json:"description"`
	Content      Language `json:"content"`
}

// Map renders the comparison as a details value.
func (c Comparison) Map() map[string]any {
	return map[string]any{
		"are_different": c.AreDifferent,
		"description":   map[string]any{"language": c.Description.Language, "confidence": c.Description.Confidence},
		"content":       map[string]any{"language": c.Content.Language, "confidence": c.Content.Confidence},
	}
}

// Detector is a statistical language detector.
type Detector struct {
	options whatlanggo.Options
}

// NewDetector builds a detector considering every supported language.
func NewDetector() *Detector {
	return &Detector{options: whatlanggo.Options{}}
}

// Detect returns the ISO-639-1 code of text, or false when nothing was recognized.
func (d *Detector) Detect(text string) (Language, bool) {
	if len(text) > detectSample {
		cut := detectSample
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	info := whatlanggo.DetectWithOptions(text, d.options)
	code := info.Lang.Iso6391()
	if code == "" || info.Confidence == 0 {
		return Language{}, false
	}
	return Language{Language: code, Confidence: info.Confidence}, true
}

// Compare detects description and content languages.
func (d *Detector) Compare(description, content string) Comparison {
	desc, _ := d.Detect(description)
	cont, _ := d.Detect(content)
	return Comparison{
		AreDifferent: desc.Language != cont.Language,
		Description:  desc,
		Content:      cont,
	}
}
