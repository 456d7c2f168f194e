package xpg

import (
	"strings"
)

const searchPathToken = "set search_path"

// SessionState is the per-statement session configuration injected in front
// of every statement built on a Conn.
//
// SessionState is not safe for concurrent use. The one-shot path is consumed
// by whichever statement is built next.
type SessionState struct {
	// Next is a one-shot search path, cleared once consulted.
	Next *string
	// SearchPath is the persistent search path; empty means none.
	SearchPath string
	// Timezone is applied to every statement; empty means none.
	Timezone string
}

// SetNext arms the one-shot search path.
func (s *SessionState) SetNext(path string) { s.Next = &path }

// Prefix returns query preceded by the session directives: the timezone
// first, then at most one search_path directive.
func (s *SessionState) Prefix(query string) string {
	query = s.SchemaPrefix(query)
	if s.Timezone != "" {
		query = "set timezone = '" + s.Timezone + "';" + query
	}
	return query
}

// SchemaPrefix applies the search_path part of Prefix only. A query that
// already starts with "set search_path" is left alone. The one-shot path
// wins over the persistent one and is cleared whenever it is consulted,
// even when empty.
func (s *SessionState) SchemaPrefix(query string) string {
	if hasSearchPath(query) {
		return query
	}
	if s.Next != nil {
		next := *s.Next
		s.Next = nil
		if next != "" {
			return "set search_path = " + next + ";" + query
		}
	}
	if s.SearchPath != "" {
		return "set search_path = " + s.SearchPath + ";" + query
	}
	return query
}

func hasSearchPath(query string) bool {
	return len(query) >= len(searchPathToken) &&
		strings.EqualFold(query[:len(searchPathToken)], searchPathToken)
}
