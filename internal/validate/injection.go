package validate

import "regexp"

// Heuristic patterns that commonly appear when untrusted text has been spliced
// into a statement. They run after AST classification, so a match never makes
// an unparseable statement executable; it only annotates or rejects a
// statement that is otherwise well-formed.
var injectionPatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{
		regexp.MustCompile(`--[^\r\n]*$`),
		"trailing line comment, often used to truncate the original statement",
	},
	{
		regexp.MustCompile(`(?i)\b(or|and)\s+'([^']*)'\s*=\s*'([^']*)'`),
		"quoted tautology pattern (e.g. OR 'x'='x')",
	},
	{
		regexp.MustCompile(`(?i)\b(or|and)\s+(\d+)\s*=\s*(\d+)\b`),
		"numeric tautology pattern (e.g. OR 1=1)",
	},
	{
		regexp.MustCompile(`(?i)\bchr?\s*\(\s*\d+\s*\)\s*\|\|`),
		"character-code concatenation obfuscation",
	},
	{
		regexp.MustCompile(`(?i)0x[0-9a-f]{16,}`),
		"long hexadecimal literal",
	},
	{
		regexp.MustCompile(`/\*[^*]*\*/\s*\S`),
		"inline block comment splitting the statement",
	},
}

// scanInjectionHeuristics returns a reason per matched pattern. Tautology
// matches where both sides are identical are the strongest signal; others
// still match because constant comparisons have no place in generated SQL.
func scanInjectionHeuristics(sql string) []string {
	var reasons []string
	for _, p := range injectionPatterns {
		if p.re.MatchString(sql) {
			reasons = append(reasons, "suspicious pattern: "+p.reason)
		}
	}
	return reasons
}
