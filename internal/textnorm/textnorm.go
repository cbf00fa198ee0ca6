// Package textnorm canonicalizes scraped agronomy prose ahead of requirement
// extraction: unicode normalization, abbreviation and unit expansion,
// citation stripping, and sentence segmentation.
package textnorm

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// abbreviations expands shorthand common in agricultural texts. Keys are
// matched case-insensitively on word boundaries, longest first, so "temp."
// never loses to "temp".
var abbreviations = map[string]string{
	"temp.":       "temperature",
	"temp":        "temperature",
	"max.":        "maximum",
	"max":         "maximum",
	"min.":        "minimum",
	"min":         "minimum",
	"opt.":        "optimal",
	"opt":         "optimal",
	"req.":        "required",
	"req":         "required",
	"precip.":     "precipitation",
	"precip":      "precipitation",
	"evap.":       "evapotranspiration",
	"evap":        "evapotranspiration",
	"hum.":        "humidity",
	"hum":         "humidity",
	"moist.":      "moisture",
	"moist":       "moisture",
	"ph":          "pH",
	"mm":          "millimeters",
	"cm":          "centimeters",
	"kg/ha":       "kilograms per hectare",
	"t/ha":        "tons per hectare",
	"°c":          "°C",
	"deg c":       "°C",
	"degrees c":   "°C",
	"deg celsius": "°C",
}

// unitSynonyms folds unit spellings back to their canonical short form.
var unitSynonyms = map[string]string{
	"millimeters": "mm",
	"millimeter":  "mm",
	"mm/day":      "mm/day",
	"mm d-1":      "mm/day",
	"mm per day":  "mm/day",
	"liters":      "L",
	"liter":       "L",
	"l/m2":        "L/m²",
	"hours":       "hours",
	"hour":        "hours",
	"hrs":         "hours",
	"hr":          "hours",
	"h":           "hours",
	"celsius":     "°C",
	"centigrade":  "°C",
	"fahrenheit":  "°F",
	"percent":     "%",
	"percentage":  "%",
}

// numberWords converts written numbers to digits for the terms extraction
// patterns key on.
var numberWords = map[string]string{
	"zero": "0", "one": "1", "two": "2", "three": "3", "four": "4",
	"five": "5", "six": "6", "seven": "7", "eight": "8", "nine": "9",
	"ten": "10", "twenty": "20", "thirty": "30",
}

var (
	bracketCitationRe = regexp.MustCompile(`\[\d+(?:,\s*\d+)*\]`)
	authorYearRe      = regexp.MustCompile(`\([A-Z][a-z]+(?:\s+et\s+al\.?)?,\s*\d{4}[a-z]?\)`)
	seeAlsoRe         = regexp.MustCompile(`(?i)also see.*?(?:for more|more info|details).*`)
	urlRe             = regexp.MustCompile(`https?://[^\s]+`)
	referencesRe      = regexp.MustCompile(`(?i)\n\s*references?\s*\n`)
	whitespaceRe      = regexp.MustCompile(`\s+`)

	// sentenceAbbrevRe protects abbreviations whose trailing dot would
	// otherwise read as a sentence boundary.
	sentenceAbbrevRe = regexp.MustCompile(`(Dr|Mr|Mrs|Ms|Prof|Sr|Jr|vs|vol|fig|et al)\.`)
	sentenceEndRe    = regexp.MustCompile(`([.!?])\s+`)
)

const dotMarker = "<DOT>"

type replacement struct {
	re   *regexp.Regexp
	with string
}

// Normalizer canonicalizes free text. Construct once with New and reuse; it
// is safe for concurrent use.
type Normalizer struct {
	abbrevRules []replacement
	unitRules   []replacement
	numberRules []replacement
	titleCaser  cases.Caser
}

// New compiles the expansion tables into a ready Normalizer.
func New() *Normalizer {
	return &Normalizer{
		abbrevRules: compileWordRules(abbreviations, true),
		unitRules:   compileWordRules(unitSynonyms, false),
		numberRules: compileWordRules(numberWords, false),
		titleCaser:  cases.Title(language.English),
	}
}

// compileWordRules builds word-boundary-safe replacement rules. When
// longestFirst is set, longer keys are applied before shorter ones so partial
// substitutions cannot corrupt a longer match.
func compileWordRules(table map[string]string, longestFirst bool) []replacement {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if longestFirst && len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	rules := make([]replacement, 0, len(keys))
	for _, k := range keys {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(k) + `\b`)
		rules = append(rules, replacement{re: re, with: table[k]})
	}
	return rules
}

// Normalize runs the cleaning pipeline. With aggressive set it additionally
// strips citations, URLs, trailing reference sections, and spells written
// numbers as digits, the shape the extractor wants.
func (n *Normalizer) Normalize(text string, aggressive bool) string {
	if text == "" {
		return ""
	}

	text = norm.NFKC.String(text)
	text = applyRules(text, n.abbrevRules)
	text = applyRules(text, n.unitRules)

	if aggressive {
		text = n.removeCitations(text)
		text = n.removeReferences(text)
		text = applyRules(text, n.numberRules)
	}

	text = whitespaceRe.ReplaceAllString(text, " ")
	text = n.normalizeCase(text)

	return strings.TrimSpace(text)
}

func applyRules(text string, rules []replacement) string {
	for _, r := range rules {
		text = r.re.ReplaceAllString(text, r.with)
	}
	return text
}

func (n *Normalizer) removeCitations(text string) string {
	text = bracketCitationRe.ReplaceAllString(text, "")
	text = authorYearRe.ReplaceAllString(text, "")
	text = seeAlsoRe.ReplaceAllString(text, "")
	return text
}

func (n *Normalizer) removeReferences(text string) string {
	text = urlRe.ReplaceAllString(text, "")
	// Everything after the first "References" heading is bibliography.
	if loc := referencesRe.FindStringIndex(text); loc != nil {
		text = text[:loc[0]]
	}
	return text
}

// normalizeCase lower-cases prose while title-casing lines that are mostly
// uppercase, which in scraped documents are headings.
func (n *Normalizer) normalizeCase(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		upper := 0
		for _, r := range line {
			if unicode.IsUpper(r) {
				upper++
			}
		}
		if float64(upper) > float64(len([]rune(line)))*0.5 {
			lines[i] = n.titleCaser.String(line)
		} else {
			lines[i] = strings.ToLower(line)
		}
	}
	return strings.Join(lines, "\n")
}

// Sentences splits text on sentence-ending punctuation followed by
// whitespace, protecting common abbreviations from false breaks and dropping
// fragments of ten characters or fewer. The result is computed fresh on each
// call.
func (n *Normalizer) Sentences(text string) []string {
	text = sentenceAbbrevRe.ReplaceAllString(text, "${1}"+dotMarker)
	text = sentenceEndRe.ReplaceAllString(text, "${1}\x00")

	parts := strings.Split(text, "\x00")
	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.ReplaceAll(p, dotMarker, "."))
		if len(p) > 10 {
			sentences = append(sentences, p)
		}
	}
	return sentences
}
