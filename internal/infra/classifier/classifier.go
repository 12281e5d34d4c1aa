// Package classifier provides the default file-pattern risk classifier.
package classifier

import (
	"path"
	"strings"

	"github.com/gobwas/glob"

	"github.com/runoshun/git-taskflow/internal/domain"
)

// Ensure Classifier implements domain.Classifier.
var _ domain.Classifier = (*Classifier)(nil)

// Classifier assigns a risk tier from the files a change touches:
//   - any file matching a high pattern makes the change HIGH;
//   - only documentation files make it LOW;
//   - only configuration (or documentation and configuration) makes it a config-only MEDIUM;
//   - anything else, including an empty file set, is a code MEDIUM.
//
// Escalation keywords in the description are applied by the controller, not here.
type Classifier struct {
	tiers  domain.TierAgents
	docs   []glob.Glob
	config []glob.Glob
	high   []glob.Glob
}

// New creates a Classifier from the [classifier] config section.
// Invalid patterns are skipped and returned so the caller can warn about them.
func New(cfg domain.ClassifierConfig) (*Classifier, []string) {
	var invalid []string
	compile := func(patterns []string) []glob.Glob {
		out := make([]glob.Glob, 0, len(patterns))
		for _, p := range patterns {
			g, err := compilePattern(p)
			if err != nil {
				invalid = append(invalid, p)
				continue
			}
			out = append(out, g...)
		}
		return out
	}
	c := &Classifier{
		tiers:  cfg.Agents,
		docs:   compile(cfg.DocsPatterns),
		config: compile(cfg.ConfigPatterns),
		high:   compile(cfg.HighPatterns),
	}
	return c, invalid
}

// compilePattern compiles p with '/' as separator. A leading "**/" also matches
// at the top level.
func compilePattern(p string) ([]glob.Glob, error) {
	g, err := glob.Compile(p, '/')
	if err != nil {
		return nil, err
	}
	out := []glob.Glob{g}
	if rest, ok := strings.CutPrefix(p, "**/"); ok {
		top, err := glob.Compile(rest, '/')
		if err != nil {
			return nil, err
		}
		out = append(out, top)
	}
	return out, nil
}

// Classify implements domain.Classifier.
func (c *Classifier) Classify(files []string, _ string) domain.Classification {
	if len(files) == 0 {
		return domain.MediumRisk{Kind: domain.ChangeCode, RequiredAgents: c.tiers.Medium}
	}
	var docs, config int
	for _, f := range files {
		f = normalize(f)
		switch {
		case matchAny(c.high, f):
			return domain.HighRisk{RequiredAgents: c.tiers.High}
		case matchAny(c.docs, f):
			docs++
		case matchAny(c.config, f):
			config++
		}
	}
	switch {
	case docs == len(files):
		return domain.LowRisk{RequiredAgents: c.tiers.Low}
	case docs+config == len(files):
		return domain.MediumRisk{Kind: domain.ChangeConfig, RequiredAgents: c.tiers.Medium}
	default:
		return domain.MediumRisk{Kind: domain.ChangeCode, RequiredAgents: c.tiers.Medium}
	}
}

func normalize(f string) string {
	return strings.TrimPrefix(path.Clean(strings.ReplaceAll(f, "\\", "/")), "./")
}

// matchAny matches f or its base name against globs.
func matchAny(globs []glob.Glob, f string) bool {
	base := path.Base(f)
	for _, g := range globs {
		if g.Match(f) || g.Match(base) {
			return true
		}
	}
	return false
}
