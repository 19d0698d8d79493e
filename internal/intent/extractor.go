package intent

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// EmailIntent holds the fields extracted from a reply that signals email
// creation.
type EmailIntent struct {
	Name            string
	Subject         string
	BodyDescription string
}

var (
	nameRe         = regexp.MustCompile(`(?i)name:[ \t]*(.+)`)
	subjectRe      = regexp.MustCompile(`(?i)subject:[ \t]*(.+)`)
	contentLabelRe = regexp.MustCompile(`(?i)content:[ \t]*`)
	// Boundary for multi-line content: the next capitalized "Label:" line.
	// Deliberately case-sensitive, unlike the label matches above.
	nextLabelRe = regexp.MustCompile(`(?m)^[A-Z][A-Za-z ]*:`)
)

// Detector decides whether a model reply signals email-creation intent and
// pulls out the labeled fields. This is a heuristic first-match text scan,
// not a grammar: casual prose that happens to contain the labels can false
// positive, and paraphrased confirmations can false negative.
type Detector struct {
	phrases       []string
	defaultPrefix string
	defaultSubj   string
	now           func() time.Time
}

func NewDetector(spec *PromptSpec) *Detector {
	if spec == nil {
		spec = DefaultPromptSpec()
	}
	phrases := make([]string, 0, len(spec.AffirmativePhrases))
	for _, p := range spec.AffirmativePhrases {
		if s := strings.ToLower(strings.TrimSpace(p)); s != "" {
			phrases = append(phrases, s)
		}
	}
	return &Detector{
		phrases:       phrases,
		defaultPrefix: spec.Defaults.NamePrefix,
		defaultSubj:   spec.Defaults.Subject,
		now:           time.Now,
	}
}

// Detect returns the extracted intent, or nil when the reply does not signal
// email creation. Intent is positive iff the lower-cased text contains an
// affirmative phrase AND both the "name:" and "subject:" labels.
func (d *Detector) Detect(text string) *EmailIntent {
	lower := strings.ToLower(text)
	if !containsAny(lower, d.phrases) {
		return nil
	}
	if !strings.Contains(lower, "name:") || !strings.Contains(lower, "subject:") {
		return nil
	}

	out := &EmailIntent{
		Name:            firstMatch(nameRe, text),
		Subject:         firstMatch(subjectRe, text),
		BodyDescription: extractContent(text),
	}
	if out.Name == "" {
		out.Name = fmt.Sprintf("%s %s", d.defaultPrefix, d.now().Format("2006-01-02 15:04"))
	}
	if out.Subject == "" {
		out.Subject = d.defaultSubj
	}
	if out.BodyDescription == "" {
		out.BodyDescription = strings.TrimSpace(text)
	}
	return out
}

func firstMatch(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// extractContent grabs everything after the first "Content:" label up to the
// next capitalized label line or the end of text.
func extractContent(text string) string {
	loc := contentLabelRe.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	rest := text[loc[1]:]
	if m := nextLabelRe.FindStringIndex(rest); m != nil {
		rest = rest[:m[0]]
	}
	return strings.TrimSpace(rest)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
