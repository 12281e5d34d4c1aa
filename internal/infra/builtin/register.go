// Package builtin provides command presets for known agent CLIs.
// This package is responsible for CLI-specific details that domain should not know about.
package builtin

import (
	"sort"
	"strings"

	"github.com/runoshun/git-taskflow/internal/domain"
)

// preset is a built-in agent command (internal use only).
type preset struct {
	Command string
}

// presets contains the command presets for known agent CLIs.
var presets = map[string]preset{
	"claude":   claudePreset,
	"opencode": opencodePreset,
}

// agentPrompt is shared by every preset. Feedback is read from the environment
// rather than rendered into the command, so it never needs shell quoting.
const agentPrompt = `You are the {{.Agent}} agent of task {{.Task}}, working in {{.Mode}} mode. ` +
	`Work only in this directory and commit what you change. ` +
	`When done run: taskflow agent report --status COMPLETE --decision APPROVED ` +
	`(or REJECTED) --remaining '<work left, with file paths, or none>'. ` +
	`Feedback from the previous round: $TASKFLOW_FEEDBACK`

// Names returns the preset names, sorted.
func Names() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Command returns the command template of a preset.
func Command(name string) (string, bool) {
	p, ok := presets[name]
	return p.Command, ok
}

// Apply fills the command of every agent that names a preset and has no command
// of its own. It returns a warning for each unknown preset.
// This should be called after all config files are merged.
func Apply(agents map[string]domain.AgentConfig) []string {
	var warnings []string
	for name, a := range agents {
		if a.Preset == "" || a.Command != "" {
			continue
		}
		p, ok := presets[a.Preset]
		if !ok {
			warnings = append(warnings, "agents."+name+".preset: unknown preset "+a.Preset+
				" (available: "+strings.Join(Names(), ", ")+")")
			continue
		}
		a.Command = p.Command
		agents[name] = a
	}
	sort.Strings(warnings)
	return warnings
}
