package validate

import (
	"fmt"
	"strings"
)

// maxIdentifierBytes is PostgreSQL's NAMEDATALEN-1.
const maxIdentifierBytes = 63

// QuoteIdentifier returns name as a double-quoted SQL identifier, escaping
// embedded quotes. It rejects names that PostgreSQL itself would refuse, so a
// quoted identifier can be spliced into composed SQL (savepoint names, SET
// parameters) without further checks.
func QuoteIdentifier(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("validate: empty identifier")
	}
	if len(name) > maxIdentifierBytes {
		return "", fmt.Errorf("validate: identifier %q exceeds %d bytes", name, maxIdentifierBytes)
	}
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("validate: identifier contains NUL byte")
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`, nil
}

// QuoteQualified quotes a possibly schema-qualified name ("schema.relation").
// Only the first dot splits; both parts are quoted independently.
func QuoteQualified(name string) (string, error) {
	schema, rel, found := strings.Cut(name, ".")
	if !found {
		return QuoteIdentifier(name)
	}
	qs, err := QuoteIdentifier(schema)
	if err != nil {
		return "", err
	}
	qr, err := QuoteIdentifier(rel)
	if err != nil {
		return "", err
	}
	return qs + "." + qr, nil
}
