package dom

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// BlankPage is the document used when no seed HTML is configured.
const BlankPage = `<!DOCTYPE html><html><head><title></title></head><body></body></html>`

// DocumentHandle refers to the document node itself.
const DocumentHandle = 0

var (
	ErrUnknownHandle = errors.New("unknown node handle")
	ErrNotElement    = errors.New("node is not an element")
	ErrHierarchy     = errors.New("the new child element contains the parent")
	ErrNotChild      = errors.New("the node is not a child of this node")
	ErrSelector      = errors.New("not a valid selector")
)

// Node describes one node to the script side.
type Node struct {
	Handle     int               `json:"handle"`
	NodeType   int               `json:"nodeType"`
	NodeName   string            `json:"nodeName"`
	TagName    string            `json:"tagName,omitempty"`
	Interface  string            `json:"interface"`
	ID         string            `json:"id,omitempty"`
	ClassName  string            `json:"className,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Defaults   map[string]any    `json:"defaults,omitempty"`
}

// Change records one mutation made through the document.
type Change struct {
	Type     string `json:"type"`
	Selector string `json:"selector"`
	Property string `json:"property,omitempty"`
	Value    any    `json:"value,omitempty"`
}

// Document is a parsed HTML tree addressed by handles.
type Document struct {
	doc     *goquery.Document
	handles map[*html.Node]int
	nodes   []*html.Node
	changes []Change
	mu      sync.RWMutex
}

// Parse builds a document from seed HTML. Empty input yields BlankPage.
// Input that is not UTF-8 is transcoded from its detected charset.
func Parse(seed []byte) (*Document, error) {
	if len(bytes.TrimSpace(seed)) == 0 {
		seed = []byte(BlankPage)
	}
	enc := "utf-8"
	if !utf8.Valid(seed) {
		enc = DetectCharset(seed)
	}
	reader, err := charset.NewReader(bytes.NewReader(seed), "text/html; charset="+enc)
	if err != nil {
		reader = bytes.NewReader(seed)
	}
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, fmt.Errorf("parse seed html: %w", err)
	}
	d := &Document{doc: doc, handles: make(map[*html.Node]int)}
	d.handle(doc.Nodes[0])
	return d, nil
}

// DetectCharset guesses the charset of raw HTML, defaulting to utf-8.
func DetectCharset(data []byte) string {
	result, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || result == nil {
		return "utf-8"
	}
	return strings.ToLower(result.Charset)
}

func (d *Document) handle(n *html.Node) int {
	if h, ok := d.handles[n]; ok {
		return h
	}
	h := len(d.nodes)
	d.nodes = append(d.nodes, n)
	d.handles[n] = h
	return h
}

func (d *Document) node(h int) (*html.Node, error) {
	if h < 0 || h >= len(d.nodes) {
		return nil, fmt.Errorf("%d: %w", h, ErrUnknownHandle)
	}
	return d.nodes[h], nil
}

func (d *Document) element(h int) (*html.Node, error) {
	n, err := d.node(h)
	if err != nil {
		return nil, err
	}
	if n.Type != html.ElementNode {
		return nil, fmt.Errorf("%d: %w", h, ErrNotElement)
	}
	return n, nil
}

func (d *Document) handlesOf(nodes []*html.Node) []int {
	out := make([]int, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, d.handle(n))
	}
	return out
}

// Describe returns the descriptor for h.
func (d *Document) Describe(h int) (Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(h)
	if err != nil {
		return Node{}, err
	}
	return d.describe(n), nil
}

func (d *Document) describe(n *html.Node) Node {
	out := Node{Handle: d.handle(n)}
	switch n.Type {
	case html.DocumentNode:
		out.NodeType, out.NodeName, out.Interface = 9, "#document", "HTMLDocument"
	case html.TextNode:
		out.NodeType, out.NodeName, out.Interface = 3, "#text", "Text"
	case html.CommentNode:
		out.NodeType, out.NodeName, out.Interface = 8, "#comment", "Comment"
	case html.DoctypeNode:
		out.NodeType, out.NodeName, out.Interface = 10, n.Data, "DocumentType"
	default:
		kind := KindOf(n.Data)
		out.NodeType = 1
		out.TagName = strings.ToUpper(n.Data)
		out.NodeName = out.TagName
		out.Interface = kind.Interface
		out.Defaults = kind.Defaults
		out.Attributes = make(map[string]string, len(n.Attr))
		for _, a := range n.Attr {
			out.Attributes[a.Key] = a.Val
		}
		out.ID = out.Attributes["id"]
		out.ClassName = out.Attributes["class"]
	}
	return out
}

func (d *Document) root() *html.Node { return d.nodes[DocumentHandle] }

func (d *Document) child(parent *html.Node, tag string) *html.Node {
	if parent == nil {
		return nil
	}
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tag {
			return c
		}
	}
	return nil
}

// DocumentElement returns the <html> element.
func (d *Document) DocumentElement() (int, bool) { return d.named("html") }

// Head returns the <head> element.
func (d *Document) Head() (int, bool) { return d.named("head") }

// Body returns the <body> element.
func (d *Document) Body() (int, bool) { return d.named("body") }

func (d *Document) named(tag string) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	htmlEl := d.child(d.root(), "html")
	n := htmlEl
	if tag != "html" {
		n = d.child(htmlEl, tag)
	}
	if n == nil {
		return 0, false
	}
	return d.handle(n), true
}

// Title returns the text of the first <title> element.
func (d *Document) Title() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return strings.TrimSpace(d.doc.Find("title").First().Text())
}

func (d *Document) scope(h int) (*goquery.Selection, error) {
	n, err := d.node(h)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromNode(n).Selection, nil
}

func compile(selector string) (cascadia.Selector, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("'%s' is %w", selector, ErrSelector)
	}
	return sel, nil
}

// QuerySelectorAll returns the descendants of scope matching a CSS
// selector, in document order.
func (d *Document) QuerySelectorAll(scope int, selector string) ([]int, error) {
	sel, err := compile(selector)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.scope(scope)
	if err != nil {
		return nil, err
	}
	return d.handlesOf(s.FindMatcher(sel).Nodes), nil
}

// QuerySelector returns the first match of QuerySelectorAll.
func (d *Document) QuerySelector(scope int, selector string) (int, bool, error) {
	all, err := d.QuerySelectorAll(scope, selector)
	if err != nil || len(all) == 0 {
		return 0, false, err
	}
	return all[0], true, nil
}

// ElementByID returns the first element in the tree with the given id.
func (d *Document) ElementByID(id string) (int, bool) {
	if id == "" {
		return 0, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var found *html.Node
	d.walk(d.root(), func(n *html.Node) bool {
		if n.Type == html.ElementNode && attr(n, "id") == id {
			found = n
			return false
		}
		return true
	})
	if found == nil {
		return 0, false
	}
	return d.handle(found), true
}

// ElementsByTagName returns descendants of scope with the tag name; "*"
// matches every element.
func (d *Document) ElementsByTagName(scope int, tag string) ([]int, error) {
	tag = strings.ToLower(tag)
	return d.collect(scope, func(n *html.Node) bool {
		return tag == "*" || n.Data == tag
	})
}

// ElementsByClassName returns descendants of scope carrying every class in
// the space-separated list.
func (d *Document) ElementsByClassName(scope int, names string) ([]int, error) {
	want := strings.Fields(names)
	if len(want) == 0 {
		return []int{}, nil
	}
	return d.collect(scope, func(n *html.Node) bool {
		have := strings.Fields(attr(n, "class"))
		for _, w := range want {
			if !contains(have, w) {
				return false
			}
		}
		return true
	})
}

func (d *Document) collect(scope int, match func(*html.Node) bool) ([]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	root, err := d.node(scope)
	if err != nil {
		return nil, err
	}
	out := []int{}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		d.walk(c, func(n *html.Node) bool {
			if n.Type == html.ElementNode && match(n) {
				out = append(out, d.handle(n))
			}
			return true
		})
	}
	return out, nil
}

// walk visits n and its descendants in document order until visit returns
// false.
func (d *Document) walk(n *html.Node, visit func(*html.Node) bool) bool {
	if !visit(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !d.walk(c, visit) {
			return false
		}
	}
	return true
}

// Evaluate runs an XPath expression from scope and returns the element and
// text nodes it selects.
func (d *Document) Evaluate(scope int, expr string) ([]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(scope)
	if err != nil {
		return nil, err
	}
	nodes, err := htmlquery.QueryAll(n, expr)
	if err != nil {
		return nil, fmt.Errorf("xpath %q: %w", expr, err)
	}
	out := []int{}
	for _, r := range nodes {
		if r.Type == html.ElementNode || r.Type == html.TextNode {
			out = append(out, d.handle(r))
		}
	}
	return out, nil
}

// CreateElement allocates a detached element.
func (d *Document) CreateElement(tag string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handle(&html.Node{Type: html.ElementNode, Data: strings.ToLower(tag)})
}

// CreateTextNode allocates a detached text node.
func (d *Document) CreateTextNode(text string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handle(&html.Node{Type: html.TextNode, Data: text})
}

// Attribute returns the value of an attribute of element h.
func (d *Document) Attribute(h int, name string) (string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, err := d.element(h)
	if err != nil {
		return "", false, err
	}
	name = strings.ToLower(name)
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true, nil
		}
	}
	return "", false, nil
}

// SetAttribute sets an attribute of element h.
func (d *Document) SetAttribute(h int, name, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.element(h)
	if err != nil {
		return err
	}
	name = strings.ToLower(name)
	selector := selectorOf(n)
	replaced := false
	for i := range n.Attr {
		if n.Attr[i].Key == name {
			n.Attr[i].Val = value
			replaced = true
			break
		}
	}
	if !replaced {
		n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
	}
	d.record(Change{Type: "set_attribute", Selector: selector, Property: name, Value: value})
	return nil
}

// RemoveAttribute deletes an attribute of element h.
func (d *Document) RemoveAttribute(h int, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.element(h)
	if err != nil {
		return err
	}
	name = strings.ToLower(name)
	for i := range n.Attr {
		if n.Attr[i].Key == name {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			d.record(Change{Type: "remove_attribute", Selector: selectorOf(n), Property: name})
			return nil
		}
	}
	return nil
}

// AttributeNames lists the attributes of element h in source order.
func (d *Document) AttributeNames(h int) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, err := d.element(h)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(n.Attr))
	for _, a := range n.Attr {
		out = append(out, a.Key)
	}
	return out, nil
}

// AppendChild moves child to the end of parent's children.
func (d *Document) AppendChild(parent, child int) error {
	return d.InsertBefore(parent, child, -1)
}

// InsertBefore moves child in front of ref, or to the end when ref is -1.
func (d *Document) InsertBefore(parent, child, ref int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.node(parent)
	if err != nil {
		return err
	}
	c, err := d.node(child)
	if err != nil {
		return err
	}
	var r *html.Node
	if ref >= 0 {
		if r, err = d.node(ref); err != nil {
			return err
		}
		if r.Parent != p {
			return ErrNotChild
		}
	}
	for a := p; a != nil; a = a.Parent {
		if a == c {
			return ErrHierarchy
		}
	}
	if c == r {
		return nil
	}
	if c.Parent != nil {
		c.Parent.RemoveChild(c)
	}
	p.InsertBefore(c, r)

	kind := "append_child"
	if r != nil {
		kind = "insert_before"
	}
	d.record(Change{Type: kind, Selector: selectorOf(p), Value: selectorOf(c)})
	return nil
}

// Remove detaches h from its parent. Detached nodes keep their handles.
func (d *Document) Remove(h int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(h)
	if err != nil {
		return err
	}
	if n.Parent == nil {
		return nil
	}
	selector := selectorOf(n)
	n.Parent.RemoveChild(n)
	d.record(Change{Type: "remove", Selector: selector})
	return nil
}

// RemoveChild detaches child from parent.
func (d *Document) RemoveChild(parent, child int) error {
	d.mu.RLock()
	p, perr := d.node(parent)
	c, cerr := d.node(child)
	d.mu.RUnlock()
	if err := errors.Join(perr, cerr); err != nil {
		return err
	}
	if c.Parent != p {
		return ErrNotChild
	}
	return d.Remove(child)
}

// Parent returns the parent of h.
func (d *Document) Parent(h int) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(h)
	if err != nil || n.Parent == nil {
		return 0, false
	}
	return d.handle(n.Parent), true
}

// Children returns the element children of h.
func (d *Document) Children(h int) ([]int, error) {
	return d.childNodes(h, true)
}

// ChildNodes returns every child of h, text included.
func (d *Document) ChildNodes(h int) ([]int, error) {
	return d.childNodes(h, false)
}

func (d *Document) childNodes(h int, elementsOnly bool) ([]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(h)
	if err != nil {
		return nil, err
	}
	out := []int{}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if elementsOnly && c.Type != html.ElementNode {
			continue
		}
		out = append(out, d.handle(c))
	}
	return out, nil
}

// TextContent returns the concatenated text of h and its descendants.
func (d *Document) TextContent(h int) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, err := d.node(h)
	if err != nil {
		return "", err
	}
	if n.Type == html.TextNode {
		return n.Data, nil
	}
	var b strings.Builder
	d.walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String(), nil
}

// SetTextContent replaces the children of h with a single text node.
func (d *Document) SetTextContent(h int, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(h)
	if err != nil {
		return err
	}
	if n.Type == html.TextNode {
		n.Data = text
	} else {
		removeChildren(n)
		if text != "" {
			n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
		}
	}
	d.record(Change{Type: "set_text", Selector: selectorOf(n), Property: "textContent", Value: text})
	return nil
}

// InnerHTML serializes the children of h.
func (d *Document) InnerHTML(h int) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, err := d.node(h)
	if err != nil {
		return "", err
	}
	return htmlquery.OutputHTML(n, false), nil
}

// OuterHTML serializes h itself.
func (d *Document) OuterHTML(h int) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, err := d.node(h)
	if err != nil {
		return "", err
	}
	return htmlquery.OutputHTML(n, true), nil
}

// SetInnerHTML parses markup as a fragment in the context of element h
// and replaces its children with the result.
func (d *Document) SetInnerHTML(h int, markup string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.element(h)
	if err != nil {
		return err
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), n)
	if err != nil {
		return err
	}
	removeChildren(n)
	for _, c := range nodes {
		n.AppendChild(c)
	}
	d.record(Change{Type: "set_html", Selector: selectorOf(n), Property: "innerHTML", Value: markup})
	return nil
}

// Changes returns the mutations recorded so far.
func (d *Document) Changes() []Change {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Change{}, d.changes...)
}

func (d *Document) record(c Change) {
	d.changes = append(d.changes, c)
}

func removeChildren(n *html.Node) {
	for n.FirstChild != nil {
		n.RemoveChild(n.FirstChild)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// selectorOf builds a short selector naming n for change records.
func selectorOf(n *html.Node) string {
	switch n.Type {
	case html.DocumentNode:
		return "document"
	case html.TextNode:
		return "#text"
	case html.ElementNode:
	default:
		return n.Data
	}
	if id := attr(n, "id"); id != "" {
		return "#" + id
	}
	sel := n.Data
	if classes := strings.Fields(attr(n, "class")); len(classes) > 0 {
		sel += "." + strings.Join(classes, ".")
	}
	return sel
}
