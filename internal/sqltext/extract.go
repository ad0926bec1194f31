// Package sqltext holds the pure text and data helpers used to turn model
// output into executable statements and query results into records.
package sqltext

import "strings"

// ExtractStatements splits text into semicolon-terminated SQL statements.
//
// A line comment (-- or #) runs to the end of its line. The one exception is
// a comment whose text after its first semicolon ends in a semicolon of its
// own, as in "SELECT 1; -- note; SELECT 2;": the comment then stops at that
// first semicolon and the rest of the line is scanned as SQL. A semicolon
// inside a comment never terminates a statement. Block comments are dropped
// whole, semicolons included. Braces are kept in the statement, but a
// semicolon nested inside them does not terminate it, so templated
// fragments such as '{a;b}' survive intact. A trailing fragment without a
// terminating semicolon is discarded. An unbalanced closing brace drives
// the depth negative, which disables splitting for the rest of the input.
func ExtractStatements(text string) []string {
	var (
		statements []string
		buf        strings.Builder
		inBlock    bool
		depth      int
	)

	for i := 0; i < len(text); i++ {
		ch := text[i]

		if inBlock {
			if ch == '*' && i+1 < len(text) && text[i+1] == '/' {
				inBlock = false
				i++
			}
			continue
		}

		switch {
		case ch == '#' || (ch == '-' && i+1 < len(text) && text[i+1] == '-'):
			i = skipLineComment(text, i)
			if i < len(text) && text[i] == '\n' {
				buf.WriteByte('\n')
			}
		case ch == '/' && i+1 < len(text) && text[i+1] == '*':
			inBlock = true
			buf.WriteByte(' ')
			i++
		case ch == '{':
			depth++
			buf.WriteByte(ch)
		case ch == '}':
			depth--
			buf.WriteByte(ch)
		case ch == ';' && depth == 0:
			if stmt := strings.TrimSpace(buf.String()); stmt != "" {
				statements = append(statements, stmt)
			}
			buf.Reset()
		default:
			buf.WriteByte(ch)
		}
	}

	return statements
}

// skipLineComment returns the index just past the line comment starting at
// i. The result points at the terminating newline, at len(text), or at the
// first in-comment semicolon when the rest of the line is a terminated
// statement.
func skipLineComment(text string, i int) int {
	end := strings.IndexByte(text[i:], '\n')
	if end < 0 {
		end = len(text)
	} else {
		end += i
	}

	line := text[i:end]
	semi := strings.IndexByte(line, ';')
	if semi < 0 {
		return end
	}
	rest := strings.TrimSpace(line[semi+1:])
	if strings.TrimRight(rest, ";") != "" && strings.HasSuffix(rest, ";") {
		return i + semi
	}
	return end
}
