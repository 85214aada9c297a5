package sanitize

import "strings"

// stripLeadingComments removes leading /* */ and -- comments and whitespace.
func stripLeadingComments(query string) string {
	s := strings.TrimSpace(query)

	for {
		switch {
		case strings.HasPrefix(s, "/*"):
			if end := strings.Index(s, "*/"); end != -1 {
				s = strings.TrimSpace(s[end+2:])
				continue
			}
			return "" // unterminated block comment
		case strings.HasPrefix(s, "--"):
			if end := strings.Index(s, "\n"); end != -1 {
				s = strings.TrimSpace(s[end+1:])
				continue
			}
			return "" // whole line was a comment
		}
		break
	}

	return s
}

// StatementType classifies a statement by its leading keyword. Unknown or
// empty statements are "ANON".
func StatementType(query string) string {
	s := stripLeadingComments(query)
	if s == "" {
		return "ANON"
	}
	sUp := strings.ToUpper(s)

	switch {
	// --- Transaction boundaries ---
	case strings.HasPrefix(sUp, "BEGIN"),
		strings.HasPrefix(sUp, "START TRANSACTION"):
		return "TX_BEGIN"
	case strings.HasPrefix(sUp, "COMMIT"):
		return "TX_COMMIT"
	case strings.HasPrefix(sUp, "ROLLBACK"):
		return "TX_ROLLBACK"
	case strings.HasPrefix(sUp, "SAVEPOINT"),
		strings.HasPrefix(sUp, "RELEASE SAVEPOINT"):
		return "TX_SAVEPOINT"

	// --- DML ---
	case strings.HasPrefix(sUp, "WITH"):
		return "CTE"
	case strings.HasPrefix(sUp, "SELECT"):
		return "SELECT"
	case strings.HasPrefix(sUp, "INSERT"),
		strings.HasPrefix(sUp, "REPLACE"):
		return "INSERT"
	case strings.HasPrefix(sUp, "UPDATE"):
		return "UPDATE"
	case strings.HasPrefix(sUp, "DELETE"),
		strings.HasPrefix(sUp, "TRUNCATE"):
		return "DELETE"
	case strings.HasPrefix(sUp, "MERGE"),
		strings.HasPrefix(sUp, "UPSERT"):
		return "MERGE"

	// --- DDL ---
	case strings.HasPrefix(sUp, "CREATE"):
		return "CREATE"
	case strings.HasPrefix(sUp, "ALTER"),
		strings.HasPrefix(sUp, "RENAME TABLE"):
		return "ALTER"
	case strings.HasPrefix(sUp, "DROP"):
		return "DROP"

	// --- Utility / Session ---
	case strings.HasPrefix(sUp, "SET"),
		strings.HasPrefix(sUp, "RESET"),
		strings.HasPrefix(sUp, "PRAGMA"):
		return "SET"
	case strings.HasPrefix(sUp, "SHOW"),
		strings.HasPrefix(sUp, "EXPLAIN"):
		return "SHOW"
	case strings.HasPrefix(sUp, "ANALYZE"),
		strings.HasPrefix(sUp, "VACUUM"):
		return "UTILITY"

	// --- Procedural / Execution ---
	case strings.HasPrefix(sUp, "CALL"),
		strings.HasPrefix(sUp, "EXEC"),
		strings.HasPrefix(sUp, "DO"),
		strings.HasPrefix(sUp, "PREPARE"):
		return "EXEC"

	default:
		return "ANON"
	}
}
