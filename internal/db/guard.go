package db

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrReadOnly is returned when a statement would modify the database.
var ErrReadOnly = errors.New("only read-only statements are allowed")

var readOnlyLeaders = map[string]bool{
	"SELECT":   true,
	"WITH":     true,
	"SHOW":     true,
	"DESCRIBE": true,
	"DESC":     true,
	"EXPLAIN":  true,
	"VALUES":   true,
}

var forbiddenKeywords = map[string]bool{
	"INSERT":   true,
	"UPDATE":   true,
	"DELETE":   true,
	"MERGE":    true,
	"UPSERT":   true,
	"DROP":     true,
	"TRUNCATE": true,
	"ALTER":    true,
	"CREATE":   true,
	"GRANT":    true,
	"REVOKE":   true,
	"ATTACH":   true,
	"DETACH":   true,
	"COPY":     true,
	"INTO":     true,
	"CALL":     true,
	"EXEC":     true,
	"EXECUTE":  true,
	"SET":      true,
	"PRAGMA":   true,
	"VACUUM":   true,
	"LOCK":     true,
}

// CheckReadOnly rejects statements that do not start with a read keyword or
// that contain a data-modifying keyword outside of string literals.
func CheckReadOnly(stmt string) error {
	words := keywords(stmt)
	if len(words) == 0 {
		return fmt.Errorf("%w: empty statement", ErrReadOnly)
	}
	if !readOnlyLeaders[words[0]] {
		return fmt.Errorf("%w: %s", ErrReadOnly, words[0])
	}
	for _, w := range words[1:] {
		if forbiddenKeywords[w] {
			return fmt.Errorf("%w: %s", ErrReadOnly, w)
		}
	}
	return nil
}

// keywords returns the upper-cased bare words of stmt, skipping quoted
// literals and identifiers.
func keywords(stmt string) []string {
	var (
		words []string
		word  strings.Builder
		quote rune
	)
	flush := func() {
		if word.Len() > 0 {
			words = append(words, strings.ToUpper(word.String()))
			word.Reset()
		}
	}

	for _, r := range stmt {
		if quote != 0 {
			if r == quote {
				quote = 0
			}
			continue
		}
		switch {
		case r == '\'' || r == '"' || r == '`':
			flush()
			quote = r
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			word.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return words
}
