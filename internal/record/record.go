package record

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// PreviewLen is the rune length input text is truncated to for list views.
const PreviewLen = 200

// Channel names identify which capture path produced a candidate.
const (
	ChannelFetch  = "fetch"
	ChannelXHR    = "xhr"
	ChannelSocket = "socket"
	ChannelDOM    = "dom"
)

// Candidate is an unvalidated extraction attempt produced by one of the
// capture channels, prior to dedup and acceptance. A nil score means the
// field was absent from the payload, which is distinct from a zero score.
type Candidate struct {
	HumanScore   *float64
	SuspectScore *float64
	AIScore      *float64
	VerdictText  string
	SourceText   string
	Channel      string
}

// ScoreCount returns how many of the three scores are present.
func (c *Candidate) ScoreCount() int {
	n := 0
	for _, s := range []*float64{c.HumanScore, c.SuspectScore, c.AIScore} {
		if s != nil {
			n++
		}
	}
	return n
}

// Valid reports whether the candidate carries at least two scores, each
// inside [0,100].
func (c *Candidate) Valid() bool {
	if c.ScoreCount() < 2 {
		return false
	}
	for _, s := range []*float64{c.HumanScore, c.SuspectScore, c.AIScore} {
		if s != nil && (*s < 0 || *s > 100) {
			return false
		}
	}
	return true
}

// Fingerprint derives a duplicate-detection key from the candidate's scores.
func (c *Candidate) Fingerprint() string {
	return Fingerprint(c.HumanScore, c.SuspectScore, c.AIScore)
}

// DetectionRecord is a persisted, accepted detection result.
type DetectionRecord struct {
	ID           string    `json:"id"`
	CapturedAt   time.Time `json:"captured_at"`
	InputText    string    `json:"input_text"`
	InputPreview string    `json:"input_preview"`
	VerdictText  string    `json:"verdict"`
	HumanScore   *float64  `json:"human_percent"`
	SuspectScore *float64  `json:"suspected_ai_percent"`
	AIScore      *float64  `json:"ai_percent"`
	Channel      string    `json:"channel,omitempty"`
	Starred      bool      `json:"starred"`
	Note         *string   `json:"note"`
}

// Fingerprint derives the record's duplicate-detection key.
func (r *DetectionRecord) Fingerprint() string {
	return Fingerprint(r.HumanScore, r.SuspectScore, r.AIScore)
}

// Fingerprint builds a canonical key over three possibly-nil scores.
func Fingerprint(human, suspect, ai *float64) string {
	parts := make([]string, 0, 3)
	for _, s := range []*float64{human, suspect, ai} {
		if s == nil {
			parts = append(parts, "null")
		} else {
			parts = append(parts, strconv.FormatFloat(*s, 'f', -1, 64))
		}
	}
	return strings.Join(parts, "-")
}

// NewID returns a fresh record identifier of the form xxxx-xxxx-xxxx.
func NewID() string {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand does not fail on supported platforms; fall back to
		// a fixed-width timestamp id rather than panic.
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	s := hex.EncodeToString(buf[:])
	return s[0:4] + "-" + s[4:8] + "-" + s[8:12]
}

// Preview truncates text to at most PreviewLen runes, appending an ellipsis
// when anything was cut.
func Preview(text string) string {
	runes := []rune(text)
	if len(runes) <= PreviewLen {
		return text
	}
	return string(runes[:PreviewLen]) + "..."
}
