package domain

import (
	"fmt"
	"time"
)

// Config represents the application configuration.
// Fields are ordered to minimize memory padding.
type Config struct {
	Agents     map[string]AgentConfig `toml:"agents"`
	Warnings   []string               `toml:"-"`
	BaseBranch string                 `toml:"base_branch,omitempty"`
	Validate   ValidateConfig         `toml:"validate"`
	Round      RoundConfig            `toml:"round"`
	Risk       RiskConfig             `toml:"risk"`
	Classifier ClassifierConfig       `toml:"classifier"`
	Log        LogConfig              `toml:"log"`
	Metrics    MetricsConfig          `toml:"metrics"`
	Scope      ScopeConfig            `toml:"scope"`
}

// ValidateConfig holds the build/test gate from [validate].
type ValidateConfig struct {
	Command string `toml:"command,omitempty"` // Shell command run inside a workspace
	Timeout string `toml:"timeout,omitempty"` // Duration, e.g. "10m"
}

// RoundConfig holds round coordination settings from [round].
type RoundConfig struct {
	StaleAfter       string `toml:"stale_after,omitempty"`       // Non-terminal records older than this are stale
	PollInterval     string `toml:"poll_interval,omitempty"`     // First poll delay
	MaxPollInterval  string `toml:"max_poll_interval,omitempty"` // Backoff ceiling
	MaxRetries       int    `toml:"max_retries,omitempty"`       // Re-invocations before escalation
	IntegrateRetries int    `toml:"integrate_retries,omitempty"` // Rebase-and-retry attempts
}

// ScopeConfig holds the scope negotiation threshold from [scope].
type ScopeConfig struct {
	Factor float64 `toml:"factor,omitempty"`
}

// RiskConfig holds escalation settings from [risk].
type RiskConfig struct {
	EscalationKeywords []string `toml:"escalation_keywords,omitempty"`
}

// ClassifierConfig holds the default classifier rules from [classifier].
type ClassifierConfig struct {
	Agents         TierAgents `toml:"agents"`
	DocsPatterns   []string   `toml:"docs_patterns,omitempty"`
	ConfigPatterns []string   `toml:"config_patterns,omitempty"`
	HighPatterns   []string   `toml:"high_patterns,omitempty"`
}

// TierAgents lists the required agents per risk level from [classifier.agents].
type TierAgents struct {
	High   []string `toml:"high,omitempty"`
	Medium []string `toml:"medium,omitempty"`
	Low    []string `toml:"low,omitempty"`
}

// ByLevel returns the agent sets keyed by risk level.
func (t TierAgents) ByLevel() map[RiskLevel][]string {
	return map[RiskLevel][]string{
		RiskHigh:   t.High,
		RiskMedium: t.Medium,
		RiskLow:    t.Low,
	}
}

// AgentConfig holds per-agent settings from [agents.<name>].
type AgentConfig struct {
	Command   string          `toml:"command,omitempty"`   // Invocation template
	Preset    string          `toml:"preset,omitempty"`    // Built-in command used when Command is empty
	Runner    string          `toml:"runner,omitempty"`    // "background" (default) or "tmux"
	Authority AuthorityDomain `toml:"authority,omitempty"` // Domain of final authority
}

// Agent runners.
const (
	RunnerBackground = "background"
	RunnerTmux       = "tmux"
)

// InSession reports whether the agent runs in an attachable terminal session.
func (a AgentConfig) InSession() bool {
	return a.Runner == RunnerTmux
}

// LogConfig holds logging settings from [log].
type LogConfig struct {
	Level string `toml:"level,omitempty"` // debug, info, warn, error
}

// MetricsConfig holds metrics output settings from [metrics].
type MetricsConfig struct {
	Textfile string `toml:"textfile,omitempty"` // Prometheus textfile path (empty disables)
}

// Defaults.
const (
	DefaultStaleAfter       = 30 * time.Minute
	DefaultPollInterval     = 2 * time.Second
	DefaultMaxPollInterval  = 30 * time.Second
	DefaultValidateTimeout  = 30 * time.Minute
	DefaultMaxRetries       = 3
	DefaultIntegrateRetries = 3
)

// NewDefaultConfig returns the configuration used when no file exists.
func NewDefaultConfig() *Config {
	return &Config{
		Agents: map[string]AgentConfig{},
		Round: RoundConfig{
			StaleAfter:       DefaultStaleAfter.String(),
			PollInterval:     DefaultPollInterval.String(),
			MaxPollInterval:  DefaultMaxPollInterval.String(),
			MaxRetries:       DefaultMaxRetries,
			IntegrateRetries: DefaultIntegrateRetries,
		},
		Scope: ScopeConfig{Factor: DefaultScopeFactor},
		Risk:  RiskConfig{EscalationKeywords: DefaultEscalationKeywords},
		Classifier: ClassifierConfig{
			DocsPatterns:   []string{"*.md", "*.txt", "*.rst", "docs/**", "LICENSE*"},
			ConfigPatterns: []string{"*.toml", "*.yaml", "*.yml", "*.json", "*.ini", ".github/**"},
			HighPatterns:   []string{"go.mod", "go.sum", "**/migrations/**", "**/security/**"},
			Agents: TierAgents{
				High:   []string{"architect", "engineer", "security", "tester"},
				Medium: []string{"engineer", "tester"},
				Low:    []string{"engineer"},
			},
		},
		Log: LogConfig{Level: "info"},
	}
}

// Authorities returns the agent → authority domain map.
func (c *Config) Authorities() Authorities {
	out := make(Authorities, len(c.Agents))
	for name, a := range c.Agents {
		if a.Authority != "" {
			out[name] = a.Authority
		}
	}
	return out
}

// StaleAfter returns the staleness window.
func (c *Config) StaleAfter() time.Duration {
	return parseDurationOr(c.Round.StaleAfter, DefaultStaleAfter)
}

// PollInterval returns the first poll delay.
func (c *Config) PollInterval() time.Duration {
	return parseDurationOr(c.Round.PollInterval, DefaultPollInterval)
}

// MaxPollInterval returns the backoff ceiling.
func (c *Config) MaxPollInterval() time.Duration {
	return parseDurationOr(c.Round.MaxPollInterval, DefaultMaxPollInterval)
}

// ValidateTimeout returns the validation timeout.
func (c *Config) ValidateTimeout() time.Duration {
	return parseDurationOr(c.Validate.Timeout, DefaultValidateTimeout)
}

// MaxRetries returns the re-invocation ceiling.
func (c *Config) MaxRetries() int {
	if c.Round.MaxRetries > 0 {
		return c.Round.MaxRetries
	}
	return DefaultMaxRetries
}

// IntegrateRetries returns the rebase-and-retry ceiling.
func (c *Config) IntegrateRetries() int {
	if c.Round.IntegrateRetries > 0 {
		return c.Round.IntegrateRetries
	}
	return DefaultIntegrateRetries
}

// ScopeFactor returns the negotiation threshold multiplier.
func (c *Config) ScopeFactor() float64 {
	if c.Scope.Factor > 0 {
		return c.Scope.Factor
	}
	return DefaultScopeFactor
}

// CheckDurations returns an error for any unparseable duration setting.
func (c *Config) CheckDurations() error {
	for name, v := range map[string]string{
		"round.stale_after":       c.Round.StaleAfter,
		"round.poll_interval":     c.Round.PollInterval,
		"round.max_poll_interval": c.Round.MaxPollInterval,
		"validate.timeout":        c.Validate.Timeout,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}
	return nil
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
