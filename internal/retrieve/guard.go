package retrieve

import (
	"fmt"
	"regexp"
	"strings"
)

// allowedVerbs are the read-only query verbs permitted to start a graph
// query, per spec.md §4.5's query guard.
var allowedVerbs = []string{"MATCH", "OPTIONAL MATCH", "WITH", "RETURN", "CALL"}

// writeTokens must not appear anywhere in a guarded query.
var writeTokens = []string{"CREATE", "MERGE", "SET", "DELETE", "DETACH DELETE", "REMOVE", "DROP", "ALTER"}

var wordBoundary = func(token string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(token) + `\b`)
}

// GuardQuery validates a Cypher/SQL-like query against spec.md §4.5's
// allow-list before it reaches a GraphDB.Query call: it must start with one
// of the allow-listed read verbs and must not contain any write token.
// Matching is case-insensitive and word-bounded so identifiers like
// "mergeable_at" don't false-positive on "MERGE".
func GuardQuery(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return fmt.Errorf("retrieve: empty query rejected by guard")
	}

	startsWithAllowed := false
	for _, verb := range allowedVerbs {
		if wordBoundary(verb).FindStringIndex(trimmed) != nil && strings.HasPrefix(strings.ToUpper(trimmed), strings.ToUpper(verb)) {
			startsWithAllowed = true
			break
		}
	}
	if !startsWithAllowed {
		return fmt.Errorf("retrieve: query must start with one of %v", allowedVerbs)
	}

	for _, tok := range writeTokens {
		if wordBoundary(tok).MatchString(trimmed) {
			return fmt.Errorf("retrieve: query guard rejected write token %q", tok)
		}
	}
	return nil
}
