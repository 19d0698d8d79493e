package intent

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// PromptSpec drives both sides of the email-creation contract: the system
// prompt that tells the model how to phrase a confirmation, and the phrase
// set the detector looks for in replies.
type PromptSpec struct {
	System             string   `yaml:"system"`
	AffirmativePhrases []string `yaml:"affirmative_phrases"`
	Defaults           struct {
		NamePrefix string `yaml:"name_prefix"`
		Subject    string `yaml:"subject"`
	} `yaml:"defaults"`
}

const defaultSystemPrompt = `You are the MCE Email Assistant. You help users create marketing emails in Salesforce Marketing Cloud Engagement.

When a user asks you to create an email, gather what it should be called, its subject line, and what the content should say. Once you have enough to work with, confirm with a sentence like "I'll create this email for you" and lay out the final details on separate labeled lines:

Name: <internal asset name>
Subject: <subject line>
Content: <description of the email content>

Only use that labeled format when you are actually creating the email. For everything else, answer normally.`

var defaultAffirmativePhrases = []string{
	"i'll create",
	"i will create",
	"creating this email",
	"i've created",
}

// DefaultPromptSpec returns the compiled-in spec used when no YAML file is
// present.
func DefaultPromptSpec() *PromptSpec {
	s := &PromptSpec{
		System:             defaultSystemPrompt,
		AffirmativePhrases: append([]string(nil), defaultAffirmativePhrases...),
	}
	s.Defaults.NamePrefix = "AI Email"
	s.Defaults.Subject = "Your Marketing Email"
	return s
}

// LoadPromptSpec reads the spec from path, falling back to the compiled-in
// defaults for a missing file or any omitted field.
func LoadPromptSpec(path string) (*PromptSpec, error) {
	def := DefaultPromptSpec()
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return def, nil
		}
		return nil, fmt.Errorf("read prompt spec %s: %w", path, err)
	}
	var spec PromptSpec
	if err := yaml.Unmarshal(b, &spec); err != nil {
		return nil, fmt.Errorf("parse prompt spec %s: %w", path, err)
	}
	if spec.System == "" {
		spec.System = def.System
	}
	if len(spec.AffirmativePhrases) == 0 {
		spec.AffirmativePhrases = def.AffirmativePhrases
	}
	if spec.Defaults.NamePrefix == "" {
		spec.Defaults.NamePrefix = def.Defaults.NamePrefix
	}
	if spec.Defaults.Subject == "" {
		spec.Defaults.Subject = def.Defaults.Subject
	}
	return &spec, nil
}
