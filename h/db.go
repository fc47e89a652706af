package h

import "strings"

// QuoteIdent quotes a SQL identifier (role, schema, database name). Tenant
// ids end up inside DDL where parameters cannot be used, so everything
// interpolated into DDL goes through here.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral quotes a SQL string literal. Used for the handful of spots
// (CREATE ROLE ... PASSWORD, set_config values in DDL scripts) where the
// protocol does not accept bind parameters.
func QuoteLiteral(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

// JoinIdents quotes each identifier and joins with commas.
func JoinIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
