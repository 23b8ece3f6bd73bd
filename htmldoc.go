package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTMLDocument is a Document over a parsed HTML tree. It is not safe for
// concurrent use; the change watcher serialises all runs.
type HTMLDocument struct {
	root      *html.Node
	selectors map[string]cascadia.Selector
}

type htmlElement struct {
	doc  *HTMLDocument
	node *html.Node
}

// ParseHTML parses a full HTML document.
func ParseHTML(r io.Reader) (*HTMLDocument, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return NewHTMLDocument(root), nil
}

func NewHTMLDocument(root *html.Node) *HTMLDocument {
	return &HTMLDocument{
		root:      root,
		selectors: make(map[string]cascadia.Selector),
	}
}

func (d *HTMLDocument) compile(selector string) (cascadia.Selector, error) {
	if sel, ok := d.selectors[selector]; ok {
		return sel, nil
	}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidSelector, selector, err)
	}
	d.selectors[selector] = sel
	return sel, nil
}

func (d *HTMLDocument) Query(selector string) (Element, error) {
	sel, err := d.compile(selector)
	if err != nil {
		return nil, err
	}
	n := sel.MatchFirst(d.root)
	if n == nil {
		return nil, nil
	}
	return &htmlElement{doc: d, node: n}, nil
}

func (d *HTMLDocument) Lang() (string, error) {
	for n := d.root.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == html.ElementNode && n.DataAtom == atom.Html {
			return attr(n, "lang"), nil
		}
	}
	return "", nil
}

func (d *HTMLDocument) BodyText() (string, error) {
	body := findAtom(d.root, atom.Body)
	if body == nil {
		return "", nil
	}
	return textContent(body), nil
}

func (d *HTMLDocument) CreateElement(tag, class string) (Element, error) {
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
	}
	if class != "" {
		n.Attr = append(n.Attr, html.Attribute{Key: "class", Val: class})
	}
	return &htmlElement{doc: d, node: n}, nil
}

// Render serialises the (possibly annotated) document.
func (d *HTMLDocument) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

func (e *htmlElement) Text() (string, error) {
	return textContent(e.node), nil
}

func (e *htmlElement) SetText(text string) error {
	for c := e.node.FirstChild; c != nil; {
		next := c.NextSibling
		e.node.RemoveChild(c)
		c = next
	}
	e.node.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return nil
}

func (e *htmlElement) SetAttribute(name, value string) error {
	for i := range e.node.Attr {
		if e.node.Attr[i].Key == name {
			e.node.Attr[i].Val = value
			return nil
		}
	}
	e.node.Attr = append(e.node.Attr, html.Attribute{Key: name, Val: value})
	return nil
}

func (e *htmlElement) Parent() (Element, error) {
	p := e.node.Parent
	if p == nil || p.Type != html.ElementNode {
		return nil, nil
	}
	return &htmlElement{doc: e.doc, node: p}, nil
}

func (e *htmlElement) AppendChild(child Element) error {
	c, ok := child.(*htmlElement)
	if !ok || c.doc != e.doc {
		return ErrDetached
	}
	if c.node.Parent != nil {
		c.node.Parent.RemoveChild(c.node)
	}
	e.node.AppendChild(c.node)
	return nil
}

func (e *htmlElement) Remove() error {
	if e.node.Parent != nil {
		e.node.Parent.RemoveChild(e.node)
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

func findAtom(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findAtom(c, a); found != nil {
			return found
		}
	}
	return nil
}

// textContent mirrors the DOM property: all descendant text, comments excluded.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
