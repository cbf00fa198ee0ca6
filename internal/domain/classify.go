package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// knownTextures are the USDA classes accepted verbatim from a source.
var knownTextures = map[string]bool{
	"Sand": true, "Sandy Loam": true, "Loam": true, "Silt Loam": true,
	"Silt": true, "Clay Loam": true, "Silty Clay Loam": true,
	"Sandy Clay Loam": true, "Sandy Clay": true, "Silty Clay": true, "Clay": true,
}

// cropSynonyms maps lower-cased common and scientific names to the canonical
// title-cased crop name used as the dimension key.
var cropSynonyms = map[string]string{
	"maize":                "Maize",
	"corn":                 "Maize",
	"zea mays":             "Maize",
	"wheat":                "Wheat",
	"triticum":             "Wheat",
	"bread wheat":          "Wheat",
	"durum wheat":          "Wheat",
	"rice":                 "Rice",
	"oryza sativa":         "Rice",
	"paddy":                "Rice",
	"soybean":              "Soybean",
	"soy":                  "Soybean",
	"glycine max":          "Soybean",
	"soya":                 "Soybean",
	"potato":               "Potato",
	"solanum tuberosum":    "Potato",
	"irish potato":         "Potato",
	"tomato":               "Tomato",
	"solanum lycopersicum": "Tomato",
	"barley":               "Barley",
	"hordeum vulgare":      "Barley",
	"cotton":               "Cotton",
	"gossypium":            "Cotton",
}

var titleCaser = cases.Title(language.English)

func isKnownTexture(t string) bool {
	return knownTextures[t]
}

// InferTexture classifies a soil sample into a USDA texture class from its
// clay/sand/silt shares, renormalized to sum to 100. Returns "" when any
// component is missing or the shares sum to zero.
//
// The decision table is a simplified USDA texture triangle; threshold order
// matters (Sand and Silt are carved out before the Loam family).
func InferTexture(clay, sand, silt *float64) string {
	if clay == nil || sand == nil || silt == nil {
		return ""
	}
	total := *clay + *sand + *silt
	if total == 0 {
		return ""
	}

	clayPct := *clay / total * 100
	sandPct := *sand / total * 100
	siltPct := *silt / total * 100

	switch {
	case sandPct >= 85 && siltPct+1.5*clayPct < 15:
		return "Sand"
	case siltPct >= 80 && clayPct < 12:
		return "Silt"
	case clayPct >= 40:
		return "Clay"
	case sandPct >= 52 && siltPct+2*clayPct < 50:
		return "Sandy Loam"
	case siltPct >= 50 && clayPct < 27:
		return "Silt Loam"
	case clayPct >= 27 && clayPct < 40 && sandPct > 20:
		return "Clay Loam"
	default:
		return "Loam"
	}
}

// CanonicalCropName maps a free-form crop name to its canonical dimension
// key: known synonyms and scientific names resolve to a fixed title-cased
// form, unmapped names are title-cased as-is, and empty input becomes
// "Unknown".
func CanonicalCropName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "Unknown"
	}
	if canonical, ok := cropSynonyms[name]; ok {
		return canonical
	}
	return titleCaser.String(name)
}
