package extract

import (
	"regexp"
	"sort"

	"github.com/674019130/zhuqueAI-plugin/internal/record"
)

// structuralScan walks the decoded tree looking for the first node whose own
// entries hold at least two in-range numbers and whose key set hits the
// classification vocabulary. The first qualifying node wins; there is no
// backtracking to find a better one.
func (e *Extractor) structuralScan(v any) *record.Candidate {
	return e.scanNode(v, 0)
}

func (e *Extractor) scanNode(v any, depth int) *record.Candidate {
	if depth > maxDepth {
		return nil
	}

	switch t := v.(type) {
	case map[string]any:
		if e.nodeQualifies(t) {
			if c := e.bindNode(t); c != nil {
				return c
			}
		}
		// Wrapper keys first, in their configured order, then the rest
		// sorted so traversal is deterministic.
		visited := make(map[string]bool, len(e.vocab.WrapperKeys))
		for _, key := range e.vocab.WrapperKeys {
			if child, ok := t[key]; ok {
				visited[key] = true
				if c := e.scanNode(child, depth+1); c != nil {
					return c
				}
			}
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			if !visited[k] {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			if c := e.scanNode(t[k], depth+1); c != nil {
				return c
			}
		}
	case []any:
		for _, item := range t {
			if c := e.scanNode(item, depth+1); c != nil {
				return c
			}
		}
	}
	return nil
}

// nodeQualifies requires at least two own values parseable as in-range
// numbers and at least one key from the classification vocabulary.
func (e *Extractor) nodeQualifies(obj map[string]any) bool {
	numeric := 0
	vocabHit := false
	for k, v := range obj {
		if e.vocab.NodeKey.MatchString(k) {
			vocabHit = true
		}
		if f := e.parseScore(v); f != nil && inRange(*f) {
			numeric++
		}
	}
	return vocabHit && numeric >= 2
}

// bindNode extracts named scores from a qualifying node. Each pattern group
// is tried in priority order; the first pattern in a group that matches any
// unclaimed key binds that group. Returns nil when fewer than two groups
// bind.
func (e *Extractor) bindNode(obj map[string]any) *record.Candidate {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	claimed := make(map[string]bool, 3)
	bind := func(patterns []*regexp.Regexp) *float64 {
		for _, p := range patterns {
			for _, k := range keys {
				if claimed[k] || !p.MatchString(k) {
					continue
				}
				f := e.parseScore(obj[k])
				if f == nil || !inRange(*f) {
					continue
				}
				claimed[k] = true
				v := round2(*f)
				return &v
			}
		}
		return nil
	}

	// Binding order matters: the suspect group must claim keys like
	// suspected_ai_percent before the AI group's ai_ pattern can see them.
	c := &record.Candidate{}
	c.HumanScore = bind(e.vocab.HumanKeys)
	c.SuspectScore = bind(e.vocab.SuspectKeys)
	c.AIScore = bind(e.vocab.AIKeys)
	if c.ScoreCount() < 2 {
		return nil
	}
	c.VerdictText = e.verdictFromNode(obj, keys)
	return c
}

// verdictFromNode picks the first string entry of sensible length whose key
// matches the verdict vocabulary.
func (e *Extractor) verdictFromNode(obj map[string]any, sortedKeys []string) string {
	for _, k := range sortedKeys {
		if !e.vocab.VerdictKey.MatchString(k) {
			continue
		}
		if s, ok := obj[k].(string); ok {
			if n := len([]rune(s)); n >= 2 && n <= 200 {
				return s
			}
		}
	}
	return ""
}
