package catalog

import (
	"strings"
)

// parseDefinitionBody walks the column list of the stored CREATE text and
// fills in column collations, generated-column expressions, and table-level
// check constraints. Everything else in the descriptor comes from PRAGMA
// queries; this is only for what SQLite records solely in the definition.
func parseDefinitionBody(t *Table, definition string) {
	body, ok := definitionBody(definition)
	if !ok {
		return
	}
	for _, item := range splitTopLevel(body) {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		upper := strings.ToUpper(item)
		switch {
		case strings.HasPrefix(upper, "CONSTRAINT"):
			name, rest := readIdent(strings.TrimSpace(item[len("CONSTRAINT"):]))
			rest = strings.TrimSpace(rest)
			if strings.HasPrefix(strings.ToUpper(rest), "CHECK") {
				if expr, ok := firstParenGroup(rest); ok {
					t.Checks = append(t.Checks, CheckConstraint{Name: name, Expr: expr})
				}
			}
		case strings.HasPrefix(upper, "CHECK"):
			if expr, ok := firstParenGroup(item); ok {
				t.Checks = append(t.Checks, CheckConstraint{Expr: expr})
			}
		case strings.HasPrefix(upper, "PRIMARY KEY"),
			strings.HasPrefix(upper, "UNIQUE"),
			strings.HasPrefix(upper, "FOREIGN KEY"):
			// Covered by PRAGMA data.
		default:
			name, rest := readIdent(item)
			col := t.Column(CanonicalName(name))
			if col == nil {
				continue
			}
			applyColumnExtras(col, rest)
		}
	}
}

// applyColumnExtras extracts COLLATE and the generation expression from the
// tail of one column definition.
func applyColumnExtras(col *Column, rest string) {
	tokens := tokenize(rest)
	for i := 0; i < len(tokens); i++ {
		switch strings.ToUpper(tokens[i].text) {
		case "COLLATE":
			if i+1 < len(tokens) {
				col.Collation = unquoteIdent(tokens[i+1].text)
			}
		case "AS":
			if i+1 < len(tokens) && tokens[i+1].paren {
				if col.Generated != "" {
					col.Generated = tokens[i+1].text
				}
			}
		}
	}
}

// definitionBody returns the text between the outer parens of a CREATE TABLE
// definition.
func definitionBody(definition string) (string, bool) {
	start := -1
	depth := 0
	var quote byte
	for i := 0; i < len(definition); i++ {
		c := definition[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '[':
			quote = ']'
		case '(':
			if depth == 0 {
				start = i + 1
			}
			depth++
		case ')':
			depth--
			if depth == 0 && start >= 0 {
				return definition[start:i], true
			}
		}
	}
	return "", false
}

// splitTopLevel splits on commas outside parens and quotes.
func splitTopLevel(body string) []string {
	var (
		parts []string
		depth int
		quote byte
		last  int
	)
	for i := 0; i < len(body); i++ {
		c := body[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '[':
			quote = ']'
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, body[last:i])
				last = i + 1
			}
		}
	}
	parts = append(parts, body[last:])
	return parts
}

// readIdent reads a possibly-quoted identifier from the front of s and
// returns it with the remainder.
func readIdent(s string) (string, string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}
	var close byte
	switch s[0] {
	case '"', '`':
		close = s[0]
	case '[':
		close = ']'
	}
	if close != 0 {
		for i := 1; i < len(s); i++ {
			if s[i] != close {
				continue
			}
			// Doubled closing quote is an escape inside " and ` quoting.
			if close != ']' && i+1 < len(s) && s[i+1] == close {
				i++
				continue
			}
			return unquoteIdent(s[:i+1]), s[i+1:]
		}
		return unquoteIdent(s), ""
	}
	end := len(s)
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '(' {
			end = i
			break
		}
	}
	return s[:end], s[end:]
}

// unquoteIdent strips one level of identifier quoting.
func unquoteIdent(s string) string {
	if len(s) < 2 {
		return s
	}
	switch {
	case s[0] == '"' && s[len(s)-1] == '"':
		return strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
	case s[0] == '`' && s[len(s)-1] == '`':
		return strings.ReplaceAll(s[1:len(s)-1], "``", "`")
	case s[0] == '[' && s[len(s)-1] == ']':
		return s[1 : len(s)-1]
	}
	return s
}

type token struct {
	text  string
	paren bool // true when the token is a parenthesized group (content only)
}

// tokenize splits a column-definition tail into words and parenthesized
// groups, skipping string literals.
func tokenize(s string) []token {
	var out []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			depth := 0
			var quote byte
			j := i
			for ; j < len(s); j++ {
				ch := s[j]
				if quote != 0 {
					if ch == quote {
						quote = 0
					}
					continue
				}
				switch ch {
				case '\'', '"', '`':
					quote = ch
				case '(':
					depth++
				case ')':
					depth--
				}
				if depth == 0 && ch == ')' {
					break
				}
			}
			if j < len(s) {
				out = append(out, token{text: s[i+1 : j], paren: true})
				i = j + 1
			} else {
				out = append(out, token{text: s[i+1:], paren: true})
				i = len(s)
			}
		case c == '\'':
			j := i + 1
			for j < len(s) && s[j] != '\'' {
				j++
			}
			out = append(out, token{text: s[i : j+1]})
			i = j + 1
		case c == '"' || c == '`' || c == '[':
			word, rest := readIdent(s[i:])
			out = append(out, token{text: word})
			i = len(s) - len(rest)
		default:
			j := i
			for j < len(s) {
				ch := s[j]
				if ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '(' {
					break
				}
				j++
			}
			out = append(out, token{text: s[i:j]})
			i = j
		}
	}
	return out
}

// firstParenGroup returns the content of the first balanced paren group in s.
func firstParenGroup(s string) (string, bool) {
	if i := strings.IndexByte(s, '('); i >= 0 {
		return definitionBody(s[i:])
	}
	return "", false
}
