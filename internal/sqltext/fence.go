package sqltext

import "strings"

const (
	fenceMarker = "```"
	sqlTag      = "sql"
)

// StripFence returns the trimmed body of the first ```sql fenced block in
// text. When no complete SQL fence is present the trimmed input is returned.
func StripFence(text string) string {
	start := findSQLFence(text)
	if start < 0 {
		return strings.TrimSpace(text)
	}

	body := text[start:]
	end := strings.Index(body, fenceMarker)
	if end < 0 {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(body[:end])
}

// findSQLFence returns the offset just past the first ```sql opener, or -1.
// The tag is matched case-insensitively and must not run into another word,
// so ```sqlite is not treated as SQL.
func findSQLFence(text string) int {
	for from := 0; from < len(text); {
		idx := strings.Index(text[from:], fenceMarker)
		if idx < 0 {
			return -1
		}
		tagStart := from + idx + len(fenceMarker)
		tagEnd := tagStart + len(sqlTag)
		if tagEnd <= len(text) && strings.EqualFold(text[tagStart:tagEnd], sqlTag) {
			if tagEnd == len(text) || isFenceTagBoundary(text[tagEnd]) {
				return tagEnd
			}
		}
		from = tagStart
	}
	return -1
}

func isFenceTagBoundary(b byte) bool {
	switch b {
	case ' ', '\t', '\r', '\n':
		return true
	}
	return false
}
