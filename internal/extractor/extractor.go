// Package extractor recovers quantitative crop requirements from normalized
// agronomy prose using ordered pattern families with plausibility filters
// and a heuristic confidence score. Extraction is deterministic: no learned
// models, no shared state between calls.
package extractor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fieldsift/agroclimate-etl/internal/domain"
)

// Plausibility bounds for captured values. A match whose numbers fall
// outside these is treated as a miss, not an error.
const (
	tempLo, tempHi   = -10.0, 50.0
	waterLo, waterHi = 0.1, 50.0
	sunLo, sunHi     = 0.0, 24.0
	phLo, phHi       = 3.0, 9.0
)

// maxEvidence caps the retained evidence snippets per extraction.
const maxEvidence = 5

const method = "pattern_rules"

// Extractor applies compiled pattern families to text. Safe for concurrent
// use once constructed.
type Extractor struct {
	temperature []*regexp.Regexp
	water       []*regexp.Regexp
	sunlight    []*regexp.Regexp
	ph          []*regexp.Regexp
}

// New compiles a Config into an Extractor. A malformed pattern fails
// construction rather than surfacing as silent misses at extraction time.
func New(cfg Config) (*Extractor, error) {
	e := &Extractor{}
	var err error
	if e.temperature, err = compileFamily("temperature", cfg.Temperature); err != nil {
		return nil, err
	}
	if e.water, err = compileFamily("water", cfg.Water); err != nil {
		return nil, err
	}
	if e.sunlight, err = compileFamily("sunlight", cfg.Sunlight); err != nil {
		return nil, err
	}
	if e.ph, err = compileFamily("ph", cfg.PH); err != nil {
		return nil, err
	}
	return e, nil
}

func compileFamily(name string, patterns []string) ([]*regexp.Regexp, error) {
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile %s pattern %q: %w", name, p, err)
		}
		res = append(res, re)
	}
	return res, nil
}

// Extract runs the four sub-extractions independently and combines them into
// a confidence-scored result. A pattern family that never matches yields nil
// fields and a lower confidence, never an error.
func (e *Extractor) Extract(text, cropName string) domain.CropExtraction {
	out := domain.CropExtraction{
		CropName: cropName,
		Method:   method,
	}
	var evidence []string

	if tmin, tmax, ev := e.extractTemperature(text); tmin != nil {
		out.TempMinC, out.TempMaxC = tmin, tmax
		evidence = append(evidence, ev)
	}
	if water, ev := e.extractWater(text); water != nil {
		out.WaterMMPerDay = water
		evidence = append(evidence, ev)
	}
	if sun, ev, inferred := e.extractSunlight(text); sun != nil {
		out.SunlightHours = sun
		out.SunlightInferred = inferred
		evidence = append(evidence, ev)
	}
	if pmin, pmax, ev := e.extractPH(text); pmin != nil {
		out.PHMin, out.PHMax = pmin, pmax
		evidence = append(evidence, ev)
	}

	out.Confidence = confidence(
		out.TempMinC != nil,
		out.WaterMMPerDay != nil,
		out.SunlightHours != nil,
		out.PHMin != nil,
		len(evidence),
	)
	if len(evidence) > maxEvidence {
		evidence = evidence[:maxEvidence]
	}
	out.Evidence = evidence
	return out
}

// BatchExtract applies Extract to each source independently, preserving
// input order.
func (e *Extractor) BatchExtract(sources []domain.TextSource) []domain.CropExtraction {
	results := make([]domain.CropExtraction, 0, len(sources))
	for _, src := range sources {
		results = append(results, e.Extract(src.RawText, src.CropName))
	}
	return results
}

// extractTemperature scans every occurrence of each pattern in order; the
// first match with both captures in the plausible crop range wins.
func (e *Extractor) extractTemperature(text string) (*float64, *float64, string) {
	for _, re := range e.temperature {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			tmin, err1 := strconv.ParseFloat(m[1], 64)
			tmax, err2 := strconv.ParseFloat(m[2], 64)
			if err1 != nil || err2 != nil {
				continue
			}
			if tmin >= tempLo && tmin <= tempHi && tmax >= tempLo && tmax <= tempHi {
				return &tmin, &tmax, m[0]
			}
		}
	}
	return nil, nil, ""
}

func (e *Extractor) extractWater(text string) (*float64, string) {
	for _, re := range e.water {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil || v < waterLo || v > waterHi {
			continue
		}
		return &v, m[0]
	}
	return nil, ""
}

// extractSunlight falls back to qualitative cues when no numeric pattern
// matches; inferred values carry fixed hours and are flagged as such.
func (e *Extractor) extractSunlight(text string) (*float64, string, bool) {
	for _, re := range e.sunlight {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil || v < sunLo || v > sunHi {
			continue
		}
		return &v, m[0], false
	}

	lower := strings.ToLower(text)
	if strings.Contains(lower, "full sun") {
		v := 6.0
		return &v, "full sun (inferred 6+ hours)", true
	}
	if strings.Contains(lower, "partial shade") {
		v := 3.0
		return &v, "partial shade (inferred 3-6 hours)", true
	}
	return nil, "", false
}

func (e *Extractor) extractPH(text string) (*float64, *float64, string) {
	for _, re := range e.ph {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		pmin, err1 := strconv.ParseFloat(m[1], 64)
		pmax, err2 := strconv.ParseFloat(m[2], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		if pmin >= phLo && pmin <= phHi && pmax >= phLo && pmax <= phHi {
			return &pmin, &pmax, m[0]
		}
	}
	return nil, nil, ""
}

// confidence sums fixed contributions per recovered field plus a small bonus
// per evidence snippet, capped at 1.0.
func confidence(hasTemp, hasWater, hasSun, hasPH bool, evidenceCount int) float64 {
	score := 0.0
	if hasTemp {
		score += 0.30
	}
	if hasWater {
		score += 0.30
	}
	if hasSun {
		score += 0.20
	}
	if hasPH {
		score += 0.20
	}

	bonus := 0.05 * float64(evidenceCount)
	if bonus > 0.20 {
		bonus = 0.20
	}

	if score+bonus > 1.0 {
		return 1.0
	}
	return score + bonus
}
