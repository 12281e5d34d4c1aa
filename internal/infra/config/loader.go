// Package config provides configuration loading functionality.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pelletier/go-toml/v2"

	"github.com/runoshun/git-taskflow/internal/domain"
	"github.com/runoshun/git-taskflow/internal/infra/builtin"
)

// Ensure Loader implements domain.ConfigLoader.
var _ domain.ConfigLoader = (*Loader)(nil)

// Loader loads configuration from TOML files.
type Loader struct {
	dataDir       string // Path to .git/taskflow directory
	globalConfDir string // Path to global config directory (e.g., ~/.config/taskflow)
}

// NewLoader creates a new Loader.
func NewLoader(dataDir string) *Loader {
	return &Loader{
		dataDir:       dataDir,
		globalConfDir: defaultGlobalConfigDir(),
	}
}

// NewLoaderWithGlobalDir creates a new Loader with a custom global config directory.
func NewLoaderWithGlobalDir(dataDir, globalConfDir string) *Loader {
	return &Loader{
		dataDir:       dataDir,
		globalConfDir: globalConfDir,
	}
}

func defaultGlobalConfigDir() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return domain.GlobalConfigDir(configHome)
}

// Load returns the merged configuration: default <- global <- repo.
func (l *Loader) Load() (*domain.Config, error) {
	global, err := l.LoadGlobal()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	repo, err := l.LoadRepo()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg := domain.NewDefaultConfig()
	if global != nil {
		cfg = mergeConfigs(cfg, global)
	}
	if repo != nil {
		cfg = mergeConfigs(cfg, repo)
	}
	if err := cfg.CheckDurations(); err != nil {
		return nil, err
	}
	cfg.Warnings = append(cfg.Warnings, builtin.Apply(cfg.Agents)...)
	return cfg, nil
}

// LoadGlobal returns only the global configuration.
func (l *Loader) LoadGlobal() (*domain.Config, error) {
	if l.globalConfDir == "" {
		return nil, os.ErrNotExist
	}
	return l.loadFile(filepath.Join(l.globalConfDir, domain.ConfigFileName))
}

// LoadRepo returns only the repository configuration.
func (l *Loader) LoadRepo() (*domain.Config, error) {
	return l.loadFile(filepath.Join(l.dataDir, domain.ConfigFileName))
}

func (l *Loader) loadFile(path string) (*domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return convertRawToDomainConfig(raw), nil
}

// convertRawToDomainConfig converts the raw map to domain config and collects warnings.
func convertRawToDomainConfig(raw map[string]any) *domain.Config {
	res := &domain.Config{Agents: make(map[string]domain.AgentConfig)}
	w := &warnings{}

	for section, value := range raw {
		switch section {
		case "base_branch":
			res.BaseBranch = w.str("base_branch", value)
		case "validate":
			for k, v := range w.table(section, value) {
				switch k {
				case "command":
					res.Validate.Command = w.str("validate.command", v)
				case "timeout":
					res.Validate.Timeout = w.str("validate.timeout", v)
				default:
					w.unknown(section, k)
				}
			}
		case "round":
			for k, v := range w.table(section, value) {
				switch k {
				case "stale_after":
					res.Round.StaleAfter = w.str("round.stale_after", v)
				case "poll_interval":
					res.Round.PollInterval = w.str("round.poll_interval", v)
				case "max_poll_interval":
					res.Round.MaxPollInterval = w.str("round.max_poll_interval", v)
				case "max_retries":
					res.Round.MaxRetries = w.integer("round.max_retries", v)
				case "integrate_retries":
					res.Round.IntegrateRetries = w.integer("round.integrate_retries", v)
				default:
					w.unknown(section, k)
				}
			}
		case "scope":
			for k, v := range w.table(section, value) {
				switch k {
				case "factor":
					res.Scope.Factor = w.number("scope.factor", v)
				default:
					w.unknown(section, k)
				}
			}
		case "risk":
			for k, v := range w.table(section, value) {
				switch k {
				case "escalation_keywords":
					res.Risk.EscalationKeywords = w.strs("risk.escalation_keywords", v)
				default:
					w.unknown(section, k)
				}
			}
		case "classifier":
			parseClassifierSection(res, w, w.table(section, value))
		case "agents":
			for name, v := range w.table(section, value) {
				res.Agents[name] = parseAgent(w, name, v)
			}
		case "log":
			for k, v := range w.table(section, value) {
				switch k {
				case "level":
					res.Log.Level = w.str("log.level", v)
				default:
					w.unknown(section, k)
				}
			}
		case "metrics":
			for k, v := range w.table(section, value) {
				switch k {
				case "textfile":
					res.Metrics.Textfile = w.str("metrics.textfile", v)
				default:
					w.unknown(section, k)
				}
			}
		default:
			w.add("unknown section: %s", section)
		}
	}

	sort.Strings(w.list)
	res.Warnings = w.list
	return res
}

func parseClassifierSection(res *domain.Config, w *warnings, m map[string]any) {
	for k, v := range m {
		switch k {
		case "docs_patterns":
			res.Classifier.DocsPatterns = w.strs("classifier.docs_patterns", v)
		case "config_patterns":
			res.Classifier.ConfigPatterns = w.strs("classifier.config_patterns", v)
		case "high_patterns":
			res.Classifier.HighPatterns = w.strs("classifier.high_patterns", v)
		case "agents":
			for level, agents := range w.table("classifier.agents", v) {
				switch level {
				case "high":
					res.Classifier.Agents.High = w.strs("classifier.agents.high", agents)
				case "medium":
					res.Classifier.Agents.Medium = w.strs("classifier.agents.medium", agents)
				case "low":
					res.Classifier.Agents.Low = w.strs("classifier.agents.low", agents)
				default:
					w.unknown("classifier.agents", level)
				}
			}
		default:
			w.unknown("classifier", k)
		}
	}
}

func parseAgent(w *warnings, name string, value any) domain.AgentConfig {
	section := "agents." + name
	var a domain.AgentConfig
	for k, v := range w.table(section, value) {
		switch k {
		case "command":
			a.Command = w.str(section+".command", v)
		case "preset":
			a.Preset = w.str(section+".preset", v)
		case "runner":
			a.Runner = w.str(section+".runner", v)
			if a.Runner != "" && a.Runner != domain.RunnerBackground && a.Runner != domain.RunnerTmux {
				w.add("%s.runner: unknown runner %q (want %s or %s)", section, a.Runner, domain.RunnerBackground, domain.RunnerTmux)
				a.Runner = ""
			}
		case "authority":
			a.Authority = domain.AuthorityDomain(w.str(section+".authority", v))
		default:
			w.unknown(section, k)
		}
	}
	return a
}

// warnings collects problems found while converting a raw document.
type warnings struct {
	list []string
}

func (w *warnings) add(format string, args ...any) {
	w.list = append(w.list, fmt.Sprintf(format, args...))
}

func (w *warnings) unknown(section, key string) {
	w.add("unknown key in [%s]: %s", section, key)
}

func (w *warnings) table(name string, v any) map[string]any {
	m, ok := v.(map[string]any)
	if !ok {
		w.add("[%s] must be a table", name)
	}
	return m
}

func (w *warnings) str(name string, v any) string {
	s, ok := v.(string)
	if !ok {
		w.add("%s must be a string", name)
	}
	return s
}

func (w *warnings) integer(name string, v any) int {
	n, ok := v.(int64)
	if !ok {
		w.add("%s must be an integer", name)
	}
	return int(n)
}

func (w *warnings) number(name string, v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	w.add("%s must be a number", name)
	return 0
}

func (w *warnings) strs(name string, v any) []string {
	items, ok := v.([]any)
	if !ok {
		w.add("%s must be an array of strings", name)
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			w.add("%s must be an array of strings", name)
			return nil
		}
		out = append(out, s)
	}
	return out
}

// mergeConfigs merges two configs, with override taking precedence.
// Lists are replaced as a whole; agents are merged field by field.
func mergeConfigs(base, override *domain.Config) *domain.Config {
	result := *base
	result.Agents = make(map[string]domain.AgentConfig, len(base.Agents)+len(override.Agents))
	result.Warnings = nil
	if n := len(base.Warnings) + len(override.Warnings); n > 0 {
		result.Warnings = append(append(make([]string, 0, n), base.Warnings...), override.Warnings...)
	}

	for name, a := range base.Agents {
		result.Agents[name] = a
	}
	for name, o := range override.Agents {
		a := result.Agents[name]
		if o.Command != "" {
			a.Command = o.Command
		}
		if o.Preset != "" {
			a.Preset = o.Preset
		}
		if o.Runner != "" {
			a.Runner = o.Runner
		}
		if o.Authority != "" {
			a.Authority = o.Authority
		}
		result.Agents[name] = a
	}

	overrideString(&result.BaseBranch, override.BaseBranch)
	overrideString(&result.Validate.Command, override.Validate.Command)
	overrideString(&result.Validate.Timeout, override.Validate.Timeout)
	overrideString(&result.Round.StaleAfter, override.Round.StaleAfter)
	overrideString(&result.Round.PollInterval, override.Round.PollInterval)
	overrideString(&result.Round.MaxPollInterval, override.Round.MaxPollInterval)
	overrideString(&result.Log.Level, override.Log.Level)
	overrideString(&result.Metrics.Textfile, override.Metrics.Textfile)
	if override.Round.MaxRetries > 0 {
		result.Round.MaxRetries = override.Round.MaxRetries
	}
	if override.Round.IntegrateRetries > 0 {
		result.Round.IntegrateRetries = override.Round.IntegrateRetries
	}
	if override.Scope.Factor > 0 {
		result.Scope.Factor = override.Scope.Factor
	}

	overrideList(&result.Risk.EscalationKeywords, override.Risk.EscalationKeywords)
	overrideList(&result.Classifier.DocsPatterns, override.Classifier.DocsPatterns)
	overrideList(&result.Classifier.ConfigPatterns, override.Classifier.ConfigPatterns)
	overrideList(&result.Classifier.HighPatterns, override.Classifier.HighPatterns)
	overrideList(&result.Classifier.Agents.High, override.Classifier.Agents.High)
	overrideList(&result.Classifier.Agents.Medium, override.Classifier.Agents.Medium)
	overrideList(&result.Classifier.Agents.Low, override.Classifier.Agents.Low)

	return &result
}

func overrideString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func overrideList(dst *[]string, v []string) {
	if v != nil {
		*dst = v
	}
}
