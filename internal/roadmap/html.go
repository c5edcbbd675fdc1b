package roadmap

import (
	"html"
	"regexp"
	"strings"
)

var (
	blockTagRe = regexp.MustCompile(`(?i)</?(p|div|br|li|ul|ol|h[1-6]|tr|table)[^>]*>`)
	anyTagRe   = regexp.MustCompile(`<[^>]+>`)
	multiWSRe  = regexp.MustCompile(`[ \t]+`)
)

// HTMLToText derives a plain-text rendering of the upstream HTML description.
// Block-level tags become newlines, everything else is stripped, and entities
// are unescaped. Good enough for indexing and terminal display; not a
// general-purpose HTML renderer.
func HTMLToText(s string) string {
	if s == "" {
		return ""
	}
	s = blockTagRe.ReplaceAllString(s, "\n")
	s = anyTagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = multiWSRe.ReplaceAllString(s, " ")

	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
