package graphstore

import (
	"fmt"
	"strings"
	"time"
)

// At composes a bitemporal predicate fragment for the given table aliases,
// appending parameterized vt/tt bounds to a running SQL WHERE clause
// (spec.md §4.8). Each call to At within a single query must use a fresh
// starting index so placeholders never collide; callers pass the next free
// $N via startParam and get back the fragment plus the args to append, in
// order, after their existing argument list.
//
// A zero ValidTime or TransactionTime means "current" for that axis.
func At(alias string, vt, tt time.Time, startParam int) (fragment string, args []any) {
	var clauses []string
	n := startParam
	if vt.IsZero() {
		clauses = append(clauses, fmt.Sprintf("%s.vt_end = 'infinity'", alias))
	} else {
		clauses = append(clauses, fmt.Sprintf("%s.vt_start <= $%d AND %s.vt_end > $%d", alias, n, alias, n))
		args = append(args, vt)
		n++
	}
	if tt.IsZero() {
		clauses = append(clauses, fmt.Sprintf("%s.tt_end = 'infinity'", alias))
	} else {
		clauses = append(clauses, fmt.Sprintf("%s.tt_start <= $%d AND %s.tt_end > $%d", alias, n, alias, n))
		args = append(args, tt)
	}
	return strings.Join(clauses, " AND "), args
}

// AsOf renders a point-in-time filter for a single table alias, using the
// same instant for both the valid-time and transaction-time axes, with
// placeholders starting at $1 (a zero instant means "current" on both).
func AsOf(alias string, at time.Time) (fragment string, args []any) {
	return At(alias, at, at, 1)
}
