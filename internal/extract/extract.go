// Package extract locates percentage-scored classification results inside
// arbitrarily shaped payloads produced by the detection service. The wire
// format is undocumented and has changed across observed versions, so
// extraction runs tiered policies from most specific to most general: a
// known-envelope fast path, a deep structural scan, and a raw-text fallback.
// The first tier yielding at least two scores wins.
package extract

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/674019130/zhuqueAI-plugin/internal/record"
)

// maxDepth bounds the structural scan recursion.
const maxDepth = 8

// Extractor applies the tiered pattern-group policies.
type Extractor struct {
	vocab *Vocabulary
}

// New creates an Extractor. A nil vocabulary selects the built-in defaults.
func New(vocab *Vocabulary) *Extractor {
	if vocab == nil {
		vocab = Default()
	}
	return &Extractor{vocab: vocab}
}

// Vocabulary exposes the active vocabulary for collaborators (scope filter,
// trigger phrases).
func (e *Extractor) Vocabulary() *Vocabulary { return e.vocab }

// ExtractTree runs the structured tiers against an already-decoded value.
// Returns nil when no tier yields a valid candidate.
func (e *Extractor) ExtractTree(v any) *record.Candidate {
	for _, policy := range []func(any) *record.Candidate{e.fastPath, e.structuralScan} {
		if c := policy(v); c != nil && c.Valid() {
			return c
		}
	}
	return nil
}

// ExtractRaw decodes a payload as JSON when possible and runs every tier,
// ending with the raw-text fallback. Returns nil when nothing matches.
func (e *Extractor) ExtractRaw(body []byte) *record.Candidate {
	if len(body) == 0 {
		return nil
	}

	var tree any
	if err := json.Unmarshal(body, &tree); err == nil {
		if c := e.ExtractTree(tree); c != nil {
			return c
		}
	}

	if c := e.rawTextFallback(string(body)); c != nil && c.Valid() {
		return c
	}
	return nil
}

// round2 converts fractions and raw floats to percentages rounded to two
// decimal places.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// parseScore coerces a JSON value to a score pointer. Nested objects fall
// back to the conventional sub-fields. Returns nil when the value is not
// usable as a percentage.
func (e *Extractor) parseScore(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case string:
		s := strings.TrimSuffix(strings.TrimSpace(t), "%")
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return &f
		}
	case map[string]any:
		for _, sub := range e.vocab.SubFields {
			if inner, ok := t[sub]; ok {
				if f := e.parseScore(inner); f != nil {
					return f
				}
			}
		}
	}
	return nil
}

// inRange reports whether a value is a plausible percentage.
func inRange(f float64) bool {
	return f >= 0 && f <= 100
}
