package timeout

import (
	"fmt"
	"regexp"
	"time"
)

// Rule is the timeout manager's own rule type.
type Rule struct {
	Pattern string
	Timeout time.Duration
}

// Config is the timeout manager's own config type.
type Config struct {
	DefaultTimeout time.Duration
	// MaxTimeout caps caller-requested timeouts (async submissions). Zero
	// means no cap.
	MaxTimeout time.Duration
	Rules      []Rule
}

type compiledRule struct {
	pattern *regexp.Regexp
	timeout time.Duration
}

// Manager resolves query timeouts based on SQL pattern matching.
type Manager struct {
	rules          []compiledRule
	defaultTimeout time.Duration
	maxTimeout     time.Duration
}

// NewManager creates a new Manager. Returns an error on invalid regex
// patterns.
func NewManager(config Config) (*Manager, error) {
	compiled := make([]compiledRule, len(config.Rules))
	for i, r := range config.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("timeout: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, timeout: r.Timeout}
	}
	return &Manager{
		rules:          compiled,
		defaultTimeout: config.DefaultTimeout,
		maxTimeout:     config.MaxTimeout,
	}, nil
}

// GetTimeout returns the timeout for the given SQL.
// First matching rule wins. Falls back to default.
func (m *Manager) GetTimeout(sql string) time.Duration {
	d, _ := m.GetTimeoutWithPattern(sql)
	return d
}

// GetTimeoutWithPattern returns the timeout for the given SQL along with the
// pattern that matched. Pattern is empty when the default applied.
func (m *Manager) GetTimeoutWithPattern(sql string) (time.Duration, string) {
	for _, rule := range m.rules {
		if rule.pattern.MatchString(sql) {
			return rule.timeout, rule.pattern.String()
		}
	}
	return m.defaultTimeout, ""
}

// Clamp bounds a caller-requested timeout: non-positive requests fall back to
// the default, and requests above MaxTimeout are capped.
func (m *Manager) Clamp(requested time.Duration) time.Duration {
	if requested <= 0 {
		requested = m.defaultTimeout
	}
	if m.maxTimeout > 0 && requested > m.maxTimeout {
		return m.maxTimeout
	}
	return requested
}
