package extract

import (
	"regexp"
	"strconv"

	"github.com/674019130/zhuqueAI-plugin/internal/record"
)

// span marks a numeric occurrence already claimed by an earlier group, so a
// label that happens to sit inside another label (the classic case: "AI"
// matching inside "疑似AI") must find a second, distinct occurrence instead
// of reusing the same figure.
type span struct{ start, end int }

// rawTextFallback runs the proximity pattern groups directly against an
// unstructured payload. Still requires at least two matches.
func (e *Extractor) rawTextFallback(text string) *record.Candidate {
	if text == "" {
		return nil
	}

	var claimed []span
	c := &record.Candidate{}
	c.HumanScore = claimNumber(e.vocab.HumanText, text, &claimed)
	c.SuspectScore = claimNumber(e.vocab.SuspectText, text, &claimed)
	c.AIScore = claimNumber(e.vocab.AIText, text, &claimed)
	if c.ScoreCount() < 2 {
		return nil
	}
	c.VerdictText = e.verdictFromText(text)
	return c
}

// claimNumber finds the first match of re whose numeric capture does not
// overlap a span claimed by an earlier group, claims it, and returns the
// parsed value.
func claimNumber(re *regexp.Regexp, text string, claimed *[]span) *float64 {
	for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
		// m[2],m[3] bound the single numeric capture group.
		if len(m) < 4 || m[2] < 0 {
			continue
		}
		numSpan := span{m[2], m[3]}
		if overlapsAny(numSpan, *claimed) {
			continue
		}
		f, err := strconv.ParseFloat(text[m[2]:m[3]], 64)
		if err != nil || !inRange(f) {
			continue
		}
		*claimed = append(*claimed, numSpan)
		v := round2(f)
		return &v
	}
	return nil
}

func overlapsAny(s span, claimed []span) bool {
	for _, c := range claimed {
		if s.start < c.end && c.start < s.end {
			return true
		}
	}
	return false
}

// verdictFromText returns the first verdict-shaped phrase found in the text.
func (e *Extractor) verdictFromText(text string) string {
	for _, re := range e.vocab.VerdictText {
		if m := re.FindString(text); m != "" {
			return m
		}
	}
	return ""
}
