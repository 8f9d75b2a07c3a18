package followup

import (
	"regexp"
	"strings"
)

var (
	htmlBlockMarkers = []string{"<p", "<div", "<br", "<table", "<html", "<body"}
	blankLines       = regexp.MustCompile(`\n\s*\n`)
)

// WrapPlainText turns a plain-text body into paragraphs: blank lines split
// paragraphs and single newlines become <br>. Bodies that already carry
// block markup are returned unchanged.
func WrapPlainText(body string) string {
	lower := strings.ToLower(body)
	for _, m := range htmlBlockMarkers {
		if strings.Contains(lower, m) {
			return body
		}
	}

	text := strings.ReplaceAll(body, "\r\n", "\n")
	var b strings.Builder
	for _, para := range blankLines.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(para, "\n", "<br>"))
		b.WriteString("</p>")
	}
	return b.String()
}
