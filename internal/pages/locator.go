package pages

import (
	"strings"
)

// Strategy is how a Locator's selector is interpreted.
type Strategy string

const (
	ByCSS       Strategy = "css"
	ByXPath     Strategy = "xpath"
	ByID        Strategy = "id"
	ByName      Strategy = "name"
	ByClassName Strategy = "class"
	ByTagName   Strategy = "tag"
	ByText      Strategy = "text"
)

// Locator identifies a DOM element by strategy and selector.
type Locator struct {
	Strategy Strategy
	Selector string
}

func CSS(sel string) Locator       { return Locator{ByCSS, sel} }
func XPath(sel string) Locator     { return Locator{ByXPath, sel} }
func ID(id string) Locator         { return Locator{ByID, id} }
func Name(name string) Locator     { return Locator{ByName, name} }
func ClassName(cls string) Locator { return Locator{ByClassName, cls} }
func TagName(tag string) Locator   { return Locator{ByTagName, tag} }
func Text(text string) Locator     { return Locator{ByText, text} }

// Query renders the selector in Playwright's selector-engine syntax.
func (l Locator) Query() string {
	switch l.Strategy {
	case ByXPath:
		return "xpath=" + l.Selector
	case ByID:
		return "css=[id=" + quoteSelectorString(l.Selector) + "]"
	case ByName:
		return "css=[name=" + quoteSelectorString(l.Selector) + "]"
	case ByClassName:
		return "css=[class~=" + quoteSelectorString(l.Selector) + "]"
	case ByTagName:
		return "css=" + l.Selector
	case ByText:
		// Quoted text selectors match the whole trimmed text, case-sensitively.
		return "text=" + quoteSelectorString(l.Selector)
	default:
		return "css=" + l.Selector
	}
}

// String renders strategy=selector for error messages.
func (l Locator) String() string {
	return string(l.Strategy) + "=" + l.Selector
}

// quoteSelectorString double-quotes s for CSS attribute values and Playwright
// text selectors, escaping backslashes, quotes and line breaks.
func quoteSelectorString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\', '"':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\a `)
		case '\r':
			b.WriteString(`\d `)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// unquoteSelectorString reverses quoteSelectorString.
func unquoteSelectorString(q string) (string, bool) {
	if len(q) < 2 || q[0] != '"' || q[len(q)-1] != '"' {
		return "", false
	}
	body := q[1 : len(q)-1]
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' {
			if c == '"' {
				return "", false
			}
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(body) {
			return "", false
		}
		next := body[i+1]
		switch next {
		case '\\', '"':
			b.WriteByte(next)
			i++
		case 'a', 'd':
			if i+2 >= len(body) || body[i+2] != ' ' {
				return "", false
			}
			if next == 'a' {
				b.WriteByte('\n')
			} else {
				b.WriteByte('\r')
			}
			i += 2
		default:
			return "", false
		}
	}
	return b.String(), true
}
