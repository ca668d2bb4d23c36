package index

import (
	"bytes"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// SanitizeText reduces page markup to the plain text that is searched: tags
// removed, entities decoded, line breaks dropped, and non-breaking spaces and
// tabs turned into plain spaces. Script and style bodies are not text.
func SanitizeText(markup string) string {
	z := html.NewTokenizer(strings.NewReader(markup))
	var buf bytes.Buffer
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				// the tokenizer only fails on reader errors
				return clean(markup)
			}
			return clean(buf.String())
		case html.TextToken:
			if skip == 0 {
				buf.Write(z.Text())
			}
		case html.StartTagToken:
			if name, _ := z.TagName(); isRawText(name) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isRawText(name) && skip > 0 {
				skip--
			}
		}
	}
}

func isRawText(tag []byte) bool {
	return string(tag) == "script" || string(tag) == "style"
}

var whitespace = strings.NewReplacer(
	"\r", "",
	"\n", "",
	"\u00a0", " ",
	"\t", " ",
)

func clean(text string) string {
	return whitespace.Replace(text)
}
