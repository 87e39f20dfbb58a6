package edgar

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "tr": true, "li": true, "table": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "hr": true,
}

var skipTags = map[string]bool{
	"script": true, "style": true, "head": true, "title": true,
	"ix:header": true, // inline XBRL hidden facts
}

// HTMLToText flattens an HTML (or inline XBRL) filing into plain text with
// one line per block element and collapsed whitespace.
func HTMLToText(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	var (
		b     strings.Builder
		line  strings.Builder
		depth int
	)
	flush := func() {
		s := strings.Join(strings.Fields(line.String()), " ")
		line.Reset()
		if s == "" {
			return
		}
		b.WriteString(s)
		b.WriteByte('\n')
	}

	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return "", err
			}
			flush()
			return strings.TrimSpace(b.String()), nil
		case html.StartTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipTags[tag] {
				depth++
			}
			if blockTags[tag] {
				flush()
			}
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if blockTags[string(name)] {
				flush()
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipTags[tag] && depth > 0 {
				depth--
			}
			if blockTags[tag] {
				flush()
			}
		case html.TextToken:
			if depth == 0 {
				line.Write(z.Text())
				line.WriteByte(' ')
			}
		}
	}
}
