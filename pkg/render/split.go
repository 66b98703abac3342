package render

import (
	"strings"
	"unicode/utf8"
)

// MaxMessageLength is the Telegram limit for one message, in characters.
const MaxMessageLength = 4096

type openTag struct {
	name string
	raw  string
}

// Split cuts HTML into chunks of at most limit runes. Cuts prefer line
// breaks, then spaces, and never land inside a tag or an entity. Tags left
// open at a cut are closed at the end of the chunk and reopened at the
// start of the next one.
func Split(text string, limit int) []string {
	var chunks []string
	var prefix string

	for {
		text = prefix + text
		if utf8.RuneCountInString(text) <= limit {
			if strings.TrimSpace(text) != "" {
				chunks = append(chunks, text)
			}
			return chunks
		}

		var chunk string
		var open []openTag
		var cut int
		for budget := limit; ; {
			cut = cutIndex(text, budget)
			chunk = strings.TrimRight(text[:cut], "\n")
			open = unclosed(chunk)
			chunk += closing(open)

			n := utf8.RuneCountInString(chunk)
			if n <= limit || budget <= limit/2 {
				break
			}
			budget -= n - limit
		}

		chunks = append(chunks, chunk)
		text = strings.TrimLeft(text[cut:], "\n")
		prefix = opening(open)
	}
}

// cutIndex returns a byte index at most budget runes into text.
func cutIndex(text string, budget int) int {
	hard := len(text)
	runes := 0
	for i := range text {
		if runes == budget {
			hard = i
			break
		}
		runes++
	}

	window := text[:hard]
	cut := hard
	if i := strings.LastIndex(window, "\n"); i > 0 {
		cut = i + 1
	} else if i := strings.LastIndex(window, " "); i > 0 {
		cut = i + 1
	}

	if lt := strings.LastIndex(text[:cut], "<"); lt > strings.LastIndex(text[:cut], ">") {
		cut = lt
	}
	if amp := strings.LastIndex(text[:cut], "&"); amp >= 0 && !strings.Contains(text[amp:cut], ";") && cut-amp < 10 {
		cut = amp
	}
	if cut <= 0 {
		cut = hard
	}
	return cut
}

func unclosed(chunk string) []openTag {
	var stack []openTag
	for _, m := range tagRe.FindAllStringSubmatch(chunk, -1) {
		name := strings.ToLower(m[2])
		if m[1] != "/" {
			stack = append(stack, openTag{name: name, raw: m[0]})
			continue
		}
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i].name == name {
				stack = append(stack[:i], stack[i+1:]...)
				break
			}
		}
	}
	return stack
}

func closing(open []openTag) string {
	var sb strings.Builder
	for i := len(open) - 1; i >= 0; i-- {
		sb.WriteString("</" + open[i].name + ">")
	}
	return sb.String()
}

func opening(open []openTag) string {
	var sb strings.Builder
	for _, t := range open {
		sb.WriteString(t.raw)
	}
	return sb.String()
}
