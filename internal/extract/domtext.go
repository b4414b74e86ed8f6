package extract

import (
	"regexp"
	"strconv"

	"github.com/674019130/zhuqueAI-plugin/internal/record"
)

// decimalPercent matches percentages with an explicit decimal part, the shape
// the result panel renders its three figures in.
var decimalPercent = regexp.MustCompile(`([0-9]{1,3}\.[0-9]{1,2})\s*%`)

// FromPageText is the DOM-specialized extraction: a label-anchored proximity
// match over the page's rendered plain text. When labels cannot be anchored
// (markup between label and figure), it falls back to taking the last three
// plausible decimal percentages on the page, which is where the result panel
// renders them.
func (e *Extractor) FromPageText(text string) *record.Candidate {
	if c := e.rawTextFallback(text); c != nil && c.Valid() {
		c.Channel = record.ChannelDOM
		return c
	}

	var values []float64
	for _, m := range decimalPercent.FindAllStringSubmatch(text, -1) {
		f, err := strconv.ParseFloat(m[1], 64)
		if err != nil || f <= 0 || f >= 100 {
			continue
		}
		values = append(values, f)
	}
	if len(values) < 3 {
		return nil
	}

	last := values[len(values)-3:]
	c := &record.Candidate{
		HumanScore:   &last[0],
		SuspectScore: &last[1],
		AIScore:      &last[2],
		VerdictText:  e.verdictFromText(text),
		Channel:      record.ChannelDOM,
	}
	if !c.Valid() {
		return nil
	}
	return c
}

// VerdictFromText pulls the rendered verdict phrase out of page text. Used
// by the delayed verdict backfill after a fast-path capture.
func (e *Extractor) VerdictFromText(text string) string {
	return e.verdictFromText(text)
}
