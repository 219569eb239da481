// Package redact keeps sensitive material out of results, logs, and error
// messages.
//
// It has three concerns: regex-based sanitization of result field values,
// credential redaction of error text before it leaves the process, and
// guidance prompts matched against error messages so callers get a hint
// alongside the failure.
package redact

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule rewrites matching field values.
type Rule struct {
	Pattern     string
	Replacement string
}

// PromptRule attaches a guidance message to matching error text.
type PromptRule struct {
	Pattern string
	Message string
}

type compiledRule struct {
	pattern     *regexp.Regexp
	replacement string
}

type compiledPrompt struct {
	pattern *regexp.Regexp
	message string
}

// builtinErrorRules always run on error text, regardless of configuration.
// Connection strings and key-value DSNs carry credentials; driver errors can
// echo them back verbatim.
var builtinErrorRules = []compiledRule{
	{regexp.MustCompile(`(?i)(password|passwd|pwd)\s*=\s*\S+`), "$1=[redacted]"},
	{regexp.MustCompile(`(?i)(postgres(?:ql)?://[^:/\s]+):[^@\s]+@`), "$1:[redacted]@"},
	{regexp.MustCompile(`(?i)(authorization|bearer|api[_-]?key|secret|token)\s*[=:]\s*\S+`), "$1=[redacted]"},
}

// Redactor applies the three rule sets. Safe for concurrent use after
// construction.
type Redactor struct {
	fieldRules []compiledRule
	prompts    []compiledPrompt
}

// New compiles the configured rules. Returns an error on any invalid regex.
func New(fieldRules []Rule, prompts []PromptRule) (*Redactor, error) {
	r := &Redactor{}
	for _, rule := range fieldRules {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("redact: invalid field rule pattern %q: %v", rule.Pattern, err)
		}
		r.fieldRules = append(r.fieldRules, compiledRule{pattern: re, replacement: rule.Replacement})
	}
	for _, p := range prompts {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("redact: invalid prompt pattern %q: %v", p.Pattern, err)
		}
		r.prompts = append(r.prompts, compiledPrompt{pattern: re, message: p.Message})
	}
	return r, nil
}

// HasFieldRules reports whether any field sanitization rules are configured.
func (r *Redactor) HasFieldRules() bool {
	return len(r.fieldRules) > 0
}

// SanitizeRows applies the field rules to every field value in rows, in
// place. JSONB/array fields are walked recursively.
func (r *Redactor) SanitizeRows(rows []map[string]any) []map[string]any {
	for _, row := range rows {
		for k, v := range row {
			row[k] = r.sanitizeValue(v)
		}
	}
	return rows
}

func (r *Redactor) sanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		result := val
		for _, rule := range r.fieldRules {
			result = rule.pattern.ReplaceAllString(result, rule.replacement)
		}
		return result
	case map[string]any:
		for k, v := range val {
			val[k] = r.sanitizeValue(v)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = r.sanitizeValue(item)
		}
		return val
	default:
		// Numeric, bool, nil, json.Number — return as-is.
		// json.Number (from UseNumber()) is type `string` underneath but does
		// NOT match `case string:` in Go type switches, so it correctly
		// passes through.
		return v
	}
}

// Error redacts credentials from error text. The built-in rules run
// unconditionally; this is the only path by which driver error text may leave
// the process.
func (r *Redactor) Error(errMsg string) string {
	for _, rule := range builtinErrorRules {
		errMsg = rule.pattern.ReplaceAllString(errMsg, rule.replacement)
	}
	return errMsg
}

// Guidance checks error text against the prompt rules (top to bottom) and
// returns all matching messages joined with newlines. Empty if none match.
func (r *Redactor) Guidance(errMsg string) string {
	var matches []string
	for _, p := range r.prompts {
		if p.pattern.MatchString(errMsg) {
			matches = append(matches, p.message)
		}
	}
	return strings.Join(matches, "\n")
}
