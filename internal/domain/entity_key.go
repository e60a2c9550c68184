package domain

import (
	"strings"

	"golang.org/x/text/cases"
)

// EntityKey is the normalized identity of one auditable object. Two
// surface-different spellings of the same object always produce the same key.
type EntityKey string

const (
	keyDelimiter = '|'
	keyEscape    = '\\'

	// ServerScope stands in for the database segment of server-level checks.
	// A real database name starting with '(' gets the '(' doubled, so no
	// database can produce the marker.
	ServerScope = "(server)"
	scopeOpen   = "("
)

// BuildKey normalizes and joins the ordered identity segments. Each segment is
// trimmed and Unicode case-folded; delimiter and escape characters inside a
// segment are escaped so distinct segment lists never collide.
func BuildKey(parts ...string) (EntityKey, error) {
	if len(parts) == 0 {
		return "", &InvalidKeyError{Segment: -1, Parts: parts, Reason: "no segments"}
	}

	fold := cases.Fold()
	var b strings.Builder
	for i, part := range parts {
		seg := fold.String(strings.TrimSpace(part))
		if seg == "" {
			return "", &InvalidKeyError{Segment: i, Parts: parts, Reason: "empty segment"}
		}
		if i > 0 {
			b.WriteRune(keyDelimiter)
		}
		for _, r := range seg {
			if r == keyDelimiter || r == keyEscape {
				b.WriteRune(keyEscape)
			}
			b.WriteRune(r)
		}
	}
	return EntityKey(b.String()), nil
}

// FindingKey builds the canonical key of one check against one object.
// Server-scope checks carry no database; ServerScope fills the slot.
func FindingKey(server, database, objectType, objectName, check string) (EntityKey, error) {
	database = strings.TrimSpace(database)
	switch {
	case database == "":
		database = ServerScope
	case strings.HasPrefix(database, scopeOpen):
		database = scopeOpen + database
	}
	return BuildKey(server, database, objectType, objectName, check)
}

// FindingFields reverses FindingKey: the segments of k with the database of a
// server-scope key blank and a doubled leading '(' undone.
func (k EntityKey) FindingFields() []string {
	parts := k.Parts()
	if len(parts) > 1 {
		switch db := parts[1]; {
		case db == ServerScope:
			parts[1] = ""
		case strings.HasPrefix(db, scopeOpen+scopeOpen):
			parts[1] = db[len(scopeOpen):]
		}
	}
	return parts
}

// Parts splits the key back into its normalized segments.
func (k EntityKey) Parts() []string {
	var (
		parts   []string
		cur     strings.Builder
		escaped bool
	)
	for _, r := range string(k) {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == keyEscape:
			escaped = true
		case r == keyDelimiter:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if k != "" {
		parts = append(parts, cur.String())
	}
	return parts
}

func (k EntityKey) String() string { return string(k) }
