// Package language normalizes recognizer language codes and detects the
// language of finished transcripts.
package language

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pemistahl/lingua-go"
	"golang.org/x/text/language"

	"voicetotext-service/internal/apperr"
)

// DefaultCandidates are the languages the detector chooses between when none
// are configured.
var DefaultCandidates = []string{"uk", "ru", "en"}

// minDetectRunes is the shortest transcript worth running detection on.
const minDetectRunes = 12

// Normalize parses a BCP 47 tag or bare language code and returns its base
// language, e.g. "uk-UA" and "UK" both become "uk".
func Normalize(code string) (string, error) {
	tag, err := language.Parse(strings.TrimSpace(code))
	if err != nil {
		return "", fmt.Errorf("%w: language %q: %v", apperr.ErrInvalidInput, code, err)
	}
	base, _ := tag.Base()
	return base.String(), nil
}

// BCP47 returns a language-region tag for code, filling in the most likely
// region when none is given ("uk" becomes "uk-UA"). Unparseable input is
// returned unchanged.
func BCP47(code string) string {
	tag, err := language.Parse(strings.TrimSpace(code))
	if err != nil {
		return code
	}
	base, _ := tag.Base()
	region, conf := tag.Region()
	if conf == language.No {
		return base.String()
	}
	return base.String() + "-" + region.String()
}

// Detector identifies the language of transcript text among a fixed set of
// candidates.
type Detector struct {
	detector lingua.LanguageDetector
}

// NewDetector builds a detector for the given ISO 639-1 codes. At least two
// recognizable languages are required.
func NewDetector(codes ...string) (*Detector, error) {
	if len(codes) == 0 {
		codes = DefaultCandidates
	}

	seen := make(map[lingua.Language]bool)
	var langs []lingua.Language
	for _, c := range codes {
		base, err := Normalize(c)
		if err != nil {
			return nil, err
		}
		iso := lingua.GetIsoCode639_1FromValue(strings.ToUpper(base))
		l := lingua.GetLanguageFromIsoCode639_1(iso)
		if l == lingua.Unknown {
			return nil, fmt.Errorf("%w: no detection model for %q", apperr.ErrInvalidInput, c)
		}
		if !seen[l] {
			seen[l] = true
			langs = append(langs, l)
		}
	}
	if len(langs) < 2 {
		return nil, fmt.Errorf("%w: detection needs at least two languages, got %d", apperr.ErrInvalidInput, len(langs))
	}

	return &Detector{
		detector: lingua.NewLanguageDetectorBuilder().
			FromLanguages(langs...).
			Build(),
	}, nil
}

// Detect returns the ISO 639-1 code of the most likely language of text, or
// "" when the text is too short or no candidate fits.
func (d *Detector) Detect(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minDetectRunes {
		return ""
	}
	l, ok := d.detector.DetectLanguageOf(text)
	if !ok || l == lingua.Unknown {
		return ""
	}
	return strings.ToLower(l.IsoCode639_1().String())
}
