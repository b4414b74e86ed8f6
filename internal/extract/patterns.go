package extract

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Vocabulary holds the compiled pattern groups the extractor matches against.
// The producing service has renamed fields across observed versions, so every
// group can be overridden from a YAML file instead of recompiling.
type Vocabulary struct {
	// Key pattern groups for structured payloads, in binding priority order.
	HumanKeys   []*regexp.Regexp
	SuspectKeys []*regexp.Regexp
	AIKeys      []*regexp.Regexp

	// NodeKey decides whether an object node is worth binding at all.
	NodeKey *regexp.Regexp
	// VerdictKey selects the free-text verdict entry of a bound node.
	VerdictKey *regexp.Regexp

	// WrapperKeys are descended into first, in order, during the deep scan.
	WrapperKeys []string
	// SubFields are tried when a score value is itself a nested object.
	SubFields []string

	// Proximity patterns for raw text and rendered page text. Each must
	// contain exactly one capture group for the numeric value.
	HumanText   *regexp.Regexp
	SuspectText *regexp.Regexp
	AIText      *regexp.Regexp

	// VerdictText patterns are tried in order against page text.
	VerdictText []*regexp.Regexp

	// SubmitPhrases mark an interactive element as a detection-submission
	// control for the trigger detector.
	SubmitPhrases []string

	// Scope restricts transport interception to plausibly relevant URLs.
	Scope *regexp.Regexp
}

const numWindow = `[^0-9%]{0,16}([0-9]{1,3}(?:\.[0-9]+)?)\s*%`

// Default returns the built-in vocabulary covering the field namings observed
// across versions of the detection service, in English and Chinese.
func Default() *Vocabulary {
	return &Vocabulary{
		HumanKeys: compileAll(
			`(?i)human`, `(?i)artificial`, `(?i)manual`, `人工`, `(?i)person`,
		),
		SuspectKeys: compileAll(
			`(?i)suspect`, `(?i)doubt`, `疑似`, `(?i)maybe`, `(?i)possible`,
		),
		AIKeys: compileAll(
			`(?i)^ai$`, `(?i)ai_`, `(?i)machine`, `机器`, `(?i)robot`, `(?i)ai[_-]?feat`,
		),
		NodeKey: regexp.MustCompile(
			`(?i)human|artificial|manual|ai|machine|suspect|score|rate|percent|probability|label|category|feature|人工|机器|疑似`),
		VerdictKey: regexp.MustCompile(`(?i)verdict|conclusion|result|judge|label|desc|判定|结论`),
		WrapperKeys: []string{
			"data", "result", "results", "detail", "info", "body", "content", "response",
		},
		SubFields:   []string{"percent", "value", "score", "rate", "ratio"},
		HumanText:   regexp.MustCompile(`(?i)(?:人工特征|人工|human|artificial)` + numWindow),
		SuspectText: regexp.MustCompile(`(?i)(?:疑似AI|疑似|suspect|doubt)` + numWindow),
		AIText:      regexp.MustCompile(`(?i)(?:AI特征|AI|机器|machine)` + numWindow),
		VerdictText: compileAll(
			`未发现[^。\n]*`, `发现[^。\n]*`, `检测结[果论][^。\n]*`, `判定[^。\n]*`, `疑似[^。\n]*`,
		),
		SubmitPhrases: []string{"开始检测", "检测", "重新检测", "detect", "submit", "analyze", "analyse"},
		Scope:         regexp.MustCompile(`(?i)detect|check|ai-detect|analyse|analyze|verify`),
	}
}

// vocabularyFile is the YAML override shape. Every list is optional; empty
// lists keep the built-in defaults for that group.
type vocabularyFile struct {
	HumanKeys     []string `yaml:"human_keys"`
	SuspectKeys   []string `yaml:"suspect_keys"`
	AIKeys        []string `yaml:"ai_keys"`
	NodeKeywords  string   `yaml:"node_keywords"`
	VerdictKeys   string   `yaml:"verdict_keys"`
	WrapperKeys   []string `yaml:"wrapper_keys"`
	SubFields     []string `yaml:"sub_fields"`
	HumanLabels   []string `yaml:"human_labels"`
	SuspectLabels []string `yaml:"suspect_labels"`
	AILabels      []string `yaml:"ai_labels"`
	VerdictText   []string `yaml:"verdict_text"`
	SubmitPhrases []string `yaml:"submit_phrases"`
	ScopeKeywords string   `yaml:"scope_keywords"`
}

// LoadVocabulary reads a YAML override file and merges it over the defaults.
func LoadVocabulary(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vocabulary: read %s: %w", path, err)
	}

	var file vocabularyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("vocabulary: parse %s: %w", path, err)
	}

	v := Default()
	if len(file.HumanKeys) > 0 {
		if v.HumanKeys, err = compileChecked(file.HumanKeys); err != nil {
			return nil, err
		}
	}
	if len(file.SuspectKeys) > 0 {
		if v.SuspectKeys, err = compileChecked(file.SuspectKeys); err != nil {
			return nil, err
		}
	}
	if len(file.AIKeys) > 0 {
		if v.AIKeys, err = compileChecked(file.AIKeys); err != nil {
			return nil, err
		}
	}
	if file.NodeKeywords != "" {
		if v.NodeKey, err = regexp.Compile(file.NodeKeywords); err != nil {
			return nil, fmt.Errorf("vocabulary: node_keywords: %w", err)
		}
	}
	if file.VerdictKeys != "" {
		if v.VerdictKey, err = regexp.Compile(file.VerdictKeys); err != nil {
			return nil, fmt.Errorf("vocabulary: verdict_keys: %w", err)
		}
	}
	if len(file.WrapperKeys) > 0 {
		v.WrapperKeys = file.WrapperKeys
	}
	if len(file.SubFields) > 0 {
		v.SubFields = file.SubFields
	}
	if len(file.HumanLabels) > 0 {
		v.HumanText = labelProximity(file.HumanLabels)
	}
	if len(file.SuspectLabels) > 0 {
		v.SuspectText = labelProximity(file.SuspectLabels)
	}
	if len(file.AILabels) > 0 {
		v.AIText = labelProximity(file.AILabels)
	}
	if len(file.VerdictText) > 0 {
		if v.VerdictText, err = compileChecked(file.VerdictText); err != nil {
			return nil, err
		}
	}
	if len(file.SubmitPhrases) > 0 {
		v.SubmitPhrases = file.SubmitPhrases
	}
	if file.ScopeKeywords != "" {
		if v.Scope, err = regexp.Compile(file.ScopeKeywords); err != nil {
			return nil, fmt.Errorf("vocabulary: scope_keywords: %w", err)
		}
	}
	return v, nil
}

// InScope reports whether a request URL plausibly belongs to the detection
// service.
func (v *Vocabulary) InScope(url string) bool {
	return v.Scope.MatchString(url)
}

func labelProximity(labels []string) *regexp.Regexp {
	quoted := make([]string, len(labels))
	for i, l := range labels {
		quoted[i] = regexp.QuoteMeta(l)
	}
	return regexp.MustCompile(`(?i)(?:` + strings.Join(quoted, "|") + `)` + numWindow)
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

func compileChecked(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("vocabulary: pattern %q: %w", p, err)
		}
		out[i] = re
	}
	return out, nil
}
