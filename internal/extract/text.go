package extract

import (
	"regexp"
	"strings"
)

var (
	blockCommentRe = regexp.MustCompile(`/\*[\s\S]*?\*/`)
	lineCommentRe  = regexp.MustCompile(`//[^\n]*`)
)

// StripComments removes C block and line comments from raw header text.
// It is naive about comment markers inside string literals, which is
// good enough for scanning macro definitions.
func StripComments(s string) string {
	s = blockCommentRe.ReplaceAllString(s, "")
	s = lineCommentRe.ReplaceAllString(s, "")
	return s
}

// line is one line of text together with its byte offset.
type line struct {
	text   string
	offset int
}

// splitLines splits s into lines, keeping the offset of each line start so
// scanners can look at the remaining text from that point.
func splitLines(s string) []line {
	var lines []line
	offset := 0
	for offset < len(s) {
		end := strings.IndexByte(s[offset:], '\n')
		if end < 0 {
			lines = append(lines, line{text: s[offset:], offset: offset})
			break
		}
		lines = append(lines, line{text: s[offset : offset+end], offset: offset})
		offset += end + 1
	}
	return lines
}
