package extract

import (
	"strings"

	"github.com/674019130/zhuqueAI-plugin/internal/record"
)

// Label IDs of the known envelope's labels_ratio mapping.
const (
	labelHuman   = "0"
	labelSuspect = "1"
	labelAI      = "2"
)

// fastPath matches the reverse-engineered response envelope: a status flag
// plus a labels_ratio mapping keyed by small integer label IDs, with ratios
// as fractions of one. Optionally an array of labeled text segments carrying
// the analyzed input. The envelope carries no human-readable verdict; the
// caller is expected to backfill that from the page.
func (e *Extractor) fastPath(v any) *record.Candidate {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}

	ratios, ok := obj["labels_ratio"].(map[string]any)
	if !ok {
		return nil
	}
	if status, ok := obj["status"].(string); ok {
		if s := strings.ToLower(status); s == "error" || s == "fail" || s == "failed" {
			return nil
		}
	}

	c := &record.Candidate{}
	c.HumanScore = fractionToPercent(e.parseScore(ratios[labelHuman]))
	c.SuspectScore = fractionToPercent(e.parseScore(ratios[labelSuspect]))
	c.AIScore = fractionToPercent(e.parseScore(ratios[labelAI]))
	c.SourceText = joinTextSegments(obj)
	return c
}

func fractionToPercent(f *float64) *float64 {
	if f == nil {
		return nil
	}
	p := round2(*f * 100)
	if !inRange(p) {
		return nil
	}
	return &p
}

// joinTextSegments reconstructs the analyzed text from the envelope's labeled
// segment array, concatenated in order.
func joinTextSegments(obj map[string]any) string {
	var items []any
	for _, key := range []string{"texts", "sentences", "segments", "details"} {
		if arr, ok := obj[key].([]any); ok {
			items = arr
			break
		}
	}
	if items == nil {
		return ""
	}

	var b strings.Builder
	for _, item := range items {
		switch t := item.(type) {
		case string:
			b.WriteString(t)
		case map[string]any:
			for _, field := range []string{"text", "content", "sentence"} {
				if s, ok := t[field].(string); ok {
					b.WriteString(s)
					break
				}
			}
		}
	}
	return b.String()
}
