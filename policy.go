package reagent

import (
	"regexp"

	"github.com/m-mizutani/goerr/v2"
)

// Detector decides whether a user request can only be satisfied by calling
// tools. The loop consults it when the model returns prose with no tool
// calls, to catch responses that claim completion without acting. The
// matching policy is pluggable because tool-requiring intents are phrased
// differently per deployment and language.
type Detector interface {
	RequiresTool(text string) bool
}

// defaultToolPatterns covers the common tool-requiring intents in English:
// file creation, command execution, package installation, web access,
// document generation and skill invocation.
var defaultToolPatterns = []string{
	`(?i)\b(create|write|save|generate|make)\b.{0,40}\b(file|folder|directory|document|report|script)\b`,
	`(?i)\b(run|execute|launch)\b.{0,40}\b(command|script|terminal|shell|program)\b`,
	`(?i)\b(install|uninstall|upgrade|update)\b.{0,40}\b(package|dependency|library|module)\b`,
	`(?i)\b(search|look up|fetch|browse|download)\b.{0,40}\b(web|internet|online|url|page)\b`,
	`(?i)\b(ppt|powerpoint|presentation|slides?|spreadsheet|excel|pdf)\b`,
	`(?i)\buse\b.{0,40}\bskill\b`,
}

type patternDetector struct {
	patterns []*regexp.Regexp
}

// NewPatternDetector builds a Detector from case-insensitive regular
// expressions matched against the most recent user request.
func NewPatternDetector(patterns ...string) (Detector, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid detector pattern", goerr.V("pattern", p))
		}
		compiled = append(compiled, re)
	}
	return &patternDetector{patterns: compiled}, nil
}

// DefaultDetector returns the built-in English-language detector.
func DefaultDetector() Detector {
	d, err := NewPatternDetector(defaultToolPatterns...)
	if err != nil {
		// The built-in patterns are compile-tested; reaching here is a bug.
		panic(err)
	}
	return d
}

func (d *patternDetector) RequiresTool(text string) bool {
	if text == "" {
		return false
	}
	for _, re := range d.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
