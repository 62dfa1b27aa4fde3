package dom

import "strings"

// Kind is the interface an element of a given tag presents, together with
// the property defaults a fresh element of that kind carries.
type Kind struct {
	Interface string
	Defaults  map[string]any
}

var kinds = map[string]Kind{
	"html":     {Interface: "HTMLHtmlElement"},
	"head":     {Interface: "HTMLHeadElement"},
	"body":     {Interface: "HTMLBodyElement"},
	"title":    {Interface: "HTMLTitleElement"},
	"meta":     {Interface: "HTMLMetaElement"},
	"link":     {Interface: "HTMLLinkElement"},
	"style":    {Interface: "HTMLStyleElement"},
	"script":   {Interface: "HTMLScriptElement", Defaults: map[string]any{"async": false, "defer": false}},
	"div":      {Interface: "HTMLDivElement"},
	"span":     {Interface: "HTMLSpanElement"},
	"p":        {Interface: "HTMLParagraphElement"},
	"a":        {Interface: "HTMLAnchorElement", Defaults: map[string]any{"href": ""}},
	"img":      {Interface: "HTMLImageElement", Defaults: map[string]any{"width": 0, "height": 0, "naturalWidth": 0, "naturalHeight": 0, "complete": true}},
	"canvas":   {Interface: "HTMLCanvasElement", Defaults: map[string]any{"width": 300, "height": 150}},
	"iframe":   {Interface: "HTMLIFrameElement", Defaults: map[string]any{"width": "", "height": ""}},
	"video":    {Interface: "HTMLVideoElement", Defaults: map[string]any{"width": 0, "height": 0, "paused": true, "muted": false}},
	"audio":    {Interface: "HTMLAudioElement", Defaults: map[string]any{"paused": true, "muted": false}},
	"input":    {Interface: "HTMLInputElement", Defaults: map[string]any{"type": "text", "value": "", "checked": false, "disabled": false}},
	"textarea": {Interface: "HTMLTextAreaElement", Defaults: map[string]any{"value": "", "disabled": false}},
	"select":   {Interface: "HTMLSelectElement", Defaults: map[string]any{"value": "", "selectedIndex": -1}},
	"option":   {Interface: "HTMLOptionElement", Defaults: map[string]any{"value": "", "selected": false}},
	"button":   {Interface: "HTMLButtonElement", Defaults: map[string]any{"type": "submit", "disabled": false}},
	"form":     {Interface: "HTMLFormElement", Defaults: map[string]any{"method": "get", "action": ""}},
	"label":    {Interface: "HTMLLabelElement"},
	"ul":       {Interface: "HTMLUListElement"},
	"ol":       {Interface: "HTMLOListElement"},
	"li":       {Interface: "HTMLLIElement"},
	"table":    {Interface: "HTMLTableElement"},
	"tr":       {Interface: "HTMLTableRowElement"},
	"td":       {Interface: "HTMLTableCellElement"},
	"th":       {Interface: "HTMLTableCellElement"},
	"br":       {Interface: "HTMLBRElement"},
	"hr":       {Interface: "HTMLHRElement"},
	"pre":      {Interface: "HTMLPreElement"},
	"h1":       {Interface: "HTMLHeadingElement"},
	"h2":       {Interface: "HTMLHeadingElement"},
	"h3":       {Interface: "HTMLHeadingElement"},
	"h4":       {Interface: "HTMLHeadingElement"},
	"h5":       {Interface: "HTMLHeadingElement"},
	"h6":       {Interface: "HTMLHeadingElement"},
	"template": {Interface: "HTMLTemplateElement"},
	"svg":      {Interface: "SVGSVGElement"},
}

// Tags that are plain HTMLElement in browsers.
var plain = []string{
	"section", "article", "aside", "header", "footer", "nav", "main",
	"b", "i", "em", "strong", "small", "code", "abbr", "cite", "figure",
	"figcaption", "noscript", "summary", "address", "mark", "u", "s",
}

func init() {
	for _, tag := range plain {
		kinds[tag] = Kind{Interface: "HTMLElement"}
	}
}

// KindOf returns the kind for a tag name. Custom elements (names with a
// hyphen) are HTMLElement and anything else unrecognised is
// HTMLUnknownElement.
func KindOf(tag string) Kind {
	tag = strings.ToLower(tag)
	if k, ok := kinds[tag]; ok {
		return k
	}
	if strings.Contains(tag, "-") {
		return Kind{Interface: "HTMLElement"}
	}
	return Kind{Interface: "HTMLUnknownElement"}
}
