// Package render turns model Markdown into the HTML subset Telegram accepts.
package render

import (
	"html"
	"regexp"
	"strings"

	"github.com/russross/blackfriday"
)

const (
	htmlFlags = blackfriday.HTML_SKIP_HTML |
		blackfriday.HTML_SKIP_STYLE |
		blackfriday.HTML_SKIP_IMAGES |
		blackfriday.HTML_SAFELINK

	extensions = blackfriday.EXTENSION_NO_INTRA_EMPHASIS |
		blackfriday.EXTENSION_FENCED_CODE |
		blackfriday.EXTENSION_AUTOLINK |
		blackfriday.EXTENSION_STRIKETHROUGH |
		blackfriday.EXTENSION_SPACE_HEADERS
)

var (
	tagRe      = regexp.MustCompile(`<(/?)([a-zA-Z0-9]+)([^>]*)>`)
	hrefRe     = regexp.MustCompile(`href="([^"]*)"`)
	langRe     = regexp.MustCompile(`class="(language-[^"]*)"`)
	newlinesRe = regexp.MustCompile(`\n{3,}`)
)

// ToHTML renders Markdown and rewrites the result to the tags Telegram
// supports. Block elements become line breaks; unknown tags are dropped.
func ToHTML(markdown string) string {
	renderer := blackfriday.HtmlRenderer(htmlFlags, "", "")
	out := string(blackfriday.Markdown([]byte(markdown), renderer, extensions))

	out = tagRe.ReplaceAllStringFunc(out, rewriteTag)
	out = newlinesRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

func rewriteTag(tag string) string {
	m := tagRe.FindStringSubmatch(tag)
	closing, name, attrs := m[1] == "/", strings.ToLower(m[2]), m[3]

	switch name {
	case "b", "strong":
		return simpleTag("b", closing)
	case "i", "em":
		return simpleTag("i", closing)
	case "u", "ins":
		return simpleTag("u", closing)
	case "s", "del", "strike":
		return simpleTag("s", closing)
	case "pre", "blockquote":
		return simpleTag(name, closing)
	case "code":
		if !closing {
			if lang := langRe.FindStringSubmatch(attrs); lang != nil {
				return `<code class="` + lang[1] + `">`
			}
		}
		return simpleTag("code", closing)
	case "a":
		if closing {
			return "</a>"
		}
		if href := hrefRe.FindStringSubmatch(attrs); href != nil {
			return `<a href="` + href[1] + `">`
		}
		return "<a>"
	case "h1", "h2", "h3", "h4", "h5", "h6":
		if closing {
			return "</b>\n"
		}
		return "<b>"
	case "li":
		if closing {
			return ""
		}
		return "• "
	case "p", "br", "hr", "tr":
		if closing || name != "p" {
			return "\n"
		}
		return ""
	default:
		return ""
	}
}

func simpleTag(name string, closing bool) string {
	if closing {
		return "</" + name + ">"
	}
	return "<" + name + ">"
}

// PlainText strips markup from rendered HTML, for resending a message
// Telegram refused to parse.
func PlainText(s string) string {
	return html.UnescapeString(tagRe.ReplaceAllString(s, ""))
}
