package browser

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// CleanedPage is page HTML reduced to its semantic structure.
type CleanedPage struct {
	HTML        string `json:"html"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Truncated   bool   `json:"truncated"`
}

// Elements dropped along with their subtree
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"iframe":   true,
	"embed":    true,
	"object":   true,
	"svg":      true,
	"canvas":   true,
}

// Block-level elements get their own indented line
var blockElements = map[string]bool{
	"div": true, "p": true, "section": true, "article": true,
	"header": true, "footer": true, "nav": true, "main": true, "aside": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "li": true, "dl": true, "dt": true, "dd": true,
	"table": true, "thead": true, "tbody": true, "tr": true, "td": true, "th": true,
	"form": true, "fieldset": true, "blockquote": true, "pre": true,
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// Attributes kept on every element, useful for building selectors
var globalAttributes = map[string]bool{
	"id":               true,
	"class":            true,
	"name":             true,
	"role":             true,
	"aria-label":       true,
	"aria-describedby": true,
}

// cleanPage parses raw HTML and rebuilds it without scripts, styles and
// comments, keeping the attributes a caller needs to target elements.
// Output text is capped at maxLength characters.
func cleanPage(raw string, maxLength int) (*CleanedPage, error) {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}

	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	c := &cleaner{limit: maxLength}
	c.walk(doc, 0)

	return &CleanedPage{
		HTML:        strings.TrimSpace(c.out.String()),
		Title:       findTitle(doc),
		Description: findMetaContent(doc, "description"),
		Truncated:   c.truncated,
	}, nil
}

type cleaner struct {
	out       strings.Builder
	used      int
	limit     int
	truncated bool
}

func (c *cleaner) walk(n *html.Node, depth int) {
	if c.truncated {
		return
	}
	switch n.Type {
	case html.CommentNode, html.DoctypeNode:
		return
	case html.TextNode:
		c.text(n.Data)
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if skippedElements[tag] || tag == "head" {
			return
		}
		c.element(n, tag, depth)
	default:
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			c.walk(child, depth)
		}
	}
}

func (c *cleaner) text(data string) {
	text := strings.Join(strings.Fields(data), " ")
	if text == "" {
		return
	}
	n := utf8.RuneCountInString(text)
	if c.used+n > c.limit {
		keep := c.limit - c.used
		text = string([]rune(text)[:keep]) + "..."
		c.truncated = true
		n = keep
	}
	c.out.WriteString(html.EscapeString(text))
	c.used += n
}

func (c *cleaner) element(n *html.Node, tag string, depth int) {
	block := blockElements[tag]
	if block && depth > 0 {
		c.out.WriteString("\n")
		c.out.WriteString(strings.Repeat("  ", depth))
	}

	c.out.WriteString("<")
	c.out.WriteString(tag)
	for _, attr := range n.Attr {
		key := strings.ToLower(attr.Key)
		if keepAttribute(tag, key) {
			fmt.Fprintf(&c.out, ` %s="%s"`, key, html.EscapeString(attr.Val))
		}
	}
	c.out.WriteString(">")

	if voidElements[tag] {
		return
	}

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.walk(child, depth+1)
	}

	if block {
		c.out.WriteString("\n")
		c.out.WriteString(strings.Repeat("  ", depth))
	}
	c.out.WriteString("</")
	c.out.WriteString(tag)
	c.out.WriteString(">")
}

func keepAttribute(tag, key string) bool {
	if globalAttributes[key] || strings.HasPrefix(key, "data-") {
		return true
	}
	switch tag {
	case "a":
		return key == "href" || key == "target"
	case "img":
		return key == "src" || key == "alt"
	case "input", "textarea", "select", "option":
		return key == "type" || key == "placeholder" || key == "value"
	case "button":
		return key == "type"
	case "form":
		return key == "action" || key == "method"
	case "label":
		return key == "for"
	}
	return false
}

func findTitle(doc *html.Node) string {
	n := findElement(doc, func(n *html.Node) bool { return n.Data == "title" })
	if n == nil || n.FirstChild == nil {
		return ""
	}
	return strings.TrimSpace(n.FirstChild.Data)
}

func findMetaContent(doc *html.Node, name string) string {
	n := findElement(doc, func(n *html.Node) bool {
		return n.Data == "meta" && strings.EqualFold(attr(n, "name"), name)
	})
	if n == nil {
		return ""
	}
	return strings.TrimSpace(attr(n, "content"))
}

// findElement returns the first element in document order matching match.
func findElement(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findElement(child, match); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
