package audit

import (
	"strings"

	"github.com/dbranch/dbranch/internal/catalog"
)

// Object kinds the classifier recognizes.
const (
	ObjectTable   = "table"
	ObjectView    = "view"
	ObjectIndex   = "index"
	ObjectTrigger = "trigger"
)

// RewriteTag is the synthetic command tag stamped on the end-phase record a
// storage rewrite produces, independent of the triggering command's own
// start/end pair.
const RewriteTag = "TABLE REWRITE"

// Command is a classified schema-modifying statement.
type Command struct {
	// Verb is the leading keyword: CREATE, ALTER, DROP, VACUUM, REINDEX.
	Verb string

	// Tag is the command tag recorded in the log, e.g. "CREATE TABLE".
	Tag string

	// ObjectType is the kind of object the command addresses; empty for a
	// whole-database VACUUM or REINDEX.
	ObjectType string

	// Name is the unquoted, canonical object name; empty when the command
	// names no object.
	Name string

	// RenameTo is the new relation name of an ALTER TABLE ... RENAME TO.
	RenameTo string

	// Text is the statement as issued.
	Text string
}

// Identity is the qualified object identity recorded in audit rows.
func (c *Command) Identity() string {
	if c.Name == "" {
		return ""
	}
	return "main." + c.Name
}

// Rewrites reports whether the command physically rewrites table storage.
func (c *Command) Rewrites() bool {
	return c.Verb == "VACUUM" || c.Verb == "REINDEX"
}

// Classify parses a statement and reports whether it is schema-modifying.
// Non-DDL statements return (nil, false) and bypass the audit path entirely.
func Classify(sqlText string) (*Command, bool) {
	toks := tokenize(sqlText)
	if len(toks) == 0 {
		return nil, false
	}

	cmd := &Command{Text: strings.TrimSpace(sqlText)}
	switch strings.ToUpper(toks[0]) {
	case "CREATE":
		return classifyCreate(cmd, toks[1:])
	case "ALTER":
		return classifyAlter(cmd, toks[1:])
	case "DROP":
		return classifyDrop(cmd, toks[1:])
	case "VACUUM":
		cmd.Verb, cmd.Tag = "VACUUM", "VACUUM"
		return cmd, true
	case "REINDEX":
		cmd.Verb, cmd.Tag = "REINDEX", "REINDEX"
		if len(toks) > 1 {
			cmd.ObjectType = ObjectTable
			cmd.Name = objectName(toks[1])
		}
		return cmd, true
	}
	return nil, false
}

func classifyCreate(cmd *Command, toks []string) (*Command, bool) {
	cmd.Verb = "CREATE"
	i := 0
	for i < len(toks) {
		switch strings.ToUpper(toks[i]) {
		case "TEMP", "TEMPORARY", "UNIQUE", "VIRTUAL":
			i++
			continue
		}
		break
	}
	if i >= len(toks) {
		return nil, false
	}
	kind, ok := objectKind(toks[i])
	if !ok {
		return nil, false
	}
	cmd.ObjectType = kind
	cmd.Tag = "CREATE " + strings.ToUpper(toks[i])
	i++
	// IF NOT EXISTS
	if i+2 < len(toks) &&
		strings.EqualFold(toks[i], "IF") &&
		strings.EqualFold(toks[i+1], "NOT") &&
		strings.EqualFold(toks[i+2], "EXISTS") {
		i += 3
	}
	if i >= len(toks) {
		return nil, false
	}
	cmd.Name = objectName(toks[i])
	return cmd, true
}

func classifyAlter(cmd *Command, toks []string) (*Command, bool) {
	if len(toks) < 2 || !strings.EqualFold(toks[0], "TABLE") {
		return nil, false
	}
	cmd.Verb = "ALTER"
	cmd.Tag = "ALTER TABLE"
	cmd.ObjectType = ObjectTable
	i := 1
	if i+2 < len(toks) &&
		strings.EqualFold(toks[i], "IF") &&
		strings.EqualFold(toks[i+1], "EXISTS") {
		i += 2
	}
	cmd.Name = objectName(toks[i])
	for j := i + 1; j+1 < len(toks); j++ {
		if strings.EqualFold(toks[j], "RENAME") && strings.EqualFold(toks[j+1], "TO") && j+2 < len(toks) {
			cmd.RenameTo = objectName(toks[j+2])
			break
		}
	}
	return cmd, true
}

func classifyDrop(cmd *Command, toks []string) (*Command, bool) {
	if len(toks) < 2 {
		return nil, false
	}
	kind, ok := objectKind(toks[0])
	if !ok {
		return nil, false
	}
	cmd.Verb = "DROP"
	cmd.Tag = "DROP " + strings.ToUpper(toks[0])
	cmd.ObjectType = kind
	i := 1
	if i+1 < len(toks) &&
		strings.EqualFold(toks[i], "IF") &&
		strings.EqualFold(toks[i+1], "EXISTS") {
		i += 2
	}
	if i >= len(toks) {
		return nil, false
	}
	cmd.Name = objectName(toks[i])
	return cmd, true
}

func objectKind(tok string) (string, bool) {
	switch strings.ToUpper(tok) {
	case "TABLE":
		return ObjectTable, true
	case "VIEW":
		return ObjectView, true
	case "INDEX":
		return ObjectIndex, true
	case "TRIGGER":
		return ObjectTrigger, true
	}
	return "", false
}

// objectName unquotes a possibly schema-qualified identifier token.
func objectName(tok string) string {
	if i := strings.LastIndexByte(tok, '.'); i >= 0 {
		tok = tok[i+1:]
	}
	return catalog.CanonicalName(unquote(tok))
}

func unquote(tok string) string {
	if len(tok) >= 2 {
		switch {
		case tok[0] == '"' && tok[len(tok)-1] == '"':
			return strings.ReplaceAll(tok[1:len(tok)-1], `""`, `"`)
		case tok[0] == '`' && tok[len(tok)-1] == '`':
			return strings.ReplaceAll(tok[1:len(tok)-1], "``", "`")
		case tok[0] == '[' && tok[len(tok)-1] == ']':
			return tok[1 : len(tok)-1]
		}
	}
	return tok
}

// tokenize splits a statement into identifier-preserving tokens: quoted
// identifiers stay single tokens, punctuation around parens is separated.
func tokenize(s string) []string {
	var toks []string
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ';':
			i++
		case c == '(' || c == ')' || c == ',':
			toks = append(toks, string(c))
			i++
		case c == '"' || c == '`':
			j := i + 1
			for j < len(s) {
				if s[j] == c {
					if j+1 < len(s) && s[j+1] == c {
						j += 2
						continue
					}
					break
				}
				j++
			}
			if j < len(s) {
				j++
			}
			toks = append(toks, s[i:j])
			i = j
		case c == '[':
			j := strings.IndexByte(s[i:], ']')
			if j < 0 {
				toks = append(toks, s[i:])
				return toks
			}
			toks = append(toks, s[i:i+j+1])
			i += j + 1
		default:
			j := i
			for j < len(s) && !strings.ContainsRune(" \t\n\r;(),", rune(s[j])) {
				j++
			}
			toks = append(toks, s[i:j])
			i = j
		}
	}
	return toks
}
