package config

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/runoshun/git-taskflow/internal/domain"
)

const configTemplateContent = `# git-taskflow configuration
# Settings here override the global config (~/.config/taskflow/config.toml).
# Every value below is the built-in default; uncomment to change it.

# Branch the task branch is created from and merged back into.
# Defaults to the branch checked out at the repository root.
# base_branch = "main"

[validate]
# Build and test command run inside a workspace. Without it validation always fails.
# command = "make test"
# timeout = "<<.Timeout>>"

[round]
# stale_after = "<<.Round.StaleAfter>>"
# poll_interval = "<<.Round.PollInterval>>"
# max_poll_interval = "<<.Round.MaxPollInterval>>"
# max_retries = <<.Round.MaxRetries>>
# integrate_retries = <<.Round.IntegrateRetries>>

[scope]
# Negotiation starts when remaining work exceeds factor x the classified files.
# factor = <<.Factor>>

[risk]
# escalation_keywords = <<list .Risk.EscalationKeywords>>

[classifier]
# docs_patterns = <<list .Classifier.DocsPatterns>>
# config_patterns = <<list .Classifier.ConfigPatterns>>
# high_patterns = <<list .Classifier.HighPatterns>>

[classifier.agents]
# high = <<list .Classifier.Agents.High>>
# medium = <<list .Classifier.Agents.Medium>>
# low = <<list .Classifier.Agents.Low>>

# One table per agent. The command is a Go template with
# {{.Task}} {{.Agent}} {{.Mode}} {{.Workspace}} and {{.Feedback}}.
# Instead of a command, preset selects a built-in one ("claude" or "opencode").
# runner = "tmux" starts the agent in a session you can peek at or attach to.
# [agents.engineer]
# command = "my-agent --task {{.Task}} --mode {{.Mode}} --dir {{.Workspace}}"
# preset = "claude"
# runner = "background"
# authority = "implementation"

[log]
# level = "<<.Log.Level>>"

[metrics]
# Prometheus textfile path; empty disables metrics output.
# textfile = ""
`

type templateData struct {
	*domain.Config
	Timeout string
	Factor  string
}

// RenderConfigTemplate renders a commented config file showing the values of cfg.
func RenderConfigTemplate(cfg *domain.Config) string {
	funcs := template.FuncMap{"list": tomlList}
	tmpl, err := template.New("config").Delims("<<", ">>").Funcs(funcs).Parse(configTemplateContent)
	if err != nil {
		panic(fmt.Sprintf("failed to parse config template: %v", err))
	}

	data := templateData{
		Config:  cfg,
		Timeout: cfg.ValidateTimeout().String(),
		Factor:  fmt.Sprintf("%.1f", cfg.ScopeFactor()),
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		panic(fmt.Sprintf("failed to execute config template: %v", err))
	}
	return buf.String()
}

func tomlList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
