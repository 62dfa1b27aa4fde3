package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<!DOCTYPE html>
<html><head><title> Demo </title></head>
<body>
  <div id="app" class="main wide">
    <p class="note">one</p>
    <p class="note hidden">two</p>
    <canvas id="c"></canvas>
  </div>
  <x-widget></x-widget>
</body></html>`

func mustParse(t *testing.T, src string) *Document {
	t.Helper()
	doc, err := Parse([]byte(src))
	require.NoError(t, err)
	return doc
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		tag       string
		iface     string
		hasWidth  bool
		wantWidth any
	}{
		{"canvas", "HTMLCanvasElement", true, 300},
		{"CANVAS", "HTMLCanvasElement", true, 300},
		{"div", "HTMLDivElement", false, nil},
		{"section", "HTMLElement", false, nil},
		{"my-widget", "HTMLElement", false, nil},
		{"blink", "HTMLUnknownElement", false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			k := KindOf(tt.tag)
			assert.Equal(t, tt.iface, k.Interface)
			w, ok := k.Defaults["width"]
			assert.Equal(t, tt.hasWidth, ok)
			if tt.hasWidth {
				assert.Equal(t, tt.wantWidth, w)
			}
		})
	}
}

func TestParseBlankPage(t *testing.T) {
	doc := mustParse(t, "")

	_, ok := doc.Body()
	assert.True(t, ok)
	_, ok = doc.Head()
	assert.True(t, ok)
	assert.Equal(t, "", doc.Title())
}

func TestDocumentStructure(t *testing.T) {
	doc := mustParse(t, page)

	root, err := doc.Describe(DocumentHandle)
	require.NoError(t, err)
	assert.Equal(t, 9, root.NodeType)
	assert.Equal(t, "#document", root.NodeName)

	h, ok := doc.DocumentElement()
	require.True(t, ok)
	el, err := doc.Describe(h)
	require.NoError(t, err)
	assert.Equal(t, "HTML", el.TagName)
	assert.Equal(t, "Demo", doc.Title())
}

func TestQueries(t *testing.T) {
	doc := mustParse(t, page)

	app, ok := doc.ElementByID("app")
	require.True(t, ok)
	desc, err := doc.Describe(app)
	require.NoError(t, err)
	assert.Equal(t, "DIV", desc.TagName)
	assert.Equal(t, "main wide", desc.ClassName)

	notes, err := doc.QuerySelectorAll(DocumentHandle, "p.note")
	require.NoError(t, err)
	assert.Len(t, notes, 2)

	first, ok, err := doc.QuerySelector(app, ".hidden")
	require.NoError(t, err)
	require.True(t, ok)
	text, err := doc.TextContent(first)
	require.NoError(t, err)
	assert.Equal(t, "two", text)

	_, ok, err = doc.QuerySelector(DocumentHandle, "table")
	require.NoError(t, err)
	assert.False(t, ok)

	byClass, err := doc.ElementsByClassName(DocumentHandle, "hidden note")
	require.NoError(t, err)
	assert.Equal(t, []int{first}, byClass)

	byTag, err := doc.ElementsByTagName(app, "P")
	require.NoError(t, err)
	assert.Equal(t, notes, byTag)

	canvas, ok := doc.ElementByID("c")
	require.True(t, ok)
	desc, err = doc.Describe(canvas)
	require.NoError(t, err)
	assert.Equal(t, "HTMLCanvasElement", desc.Interface)
	assert.Equal(t, 150, desc.Defaults["height"])

	custom, err := doc.ElementsByTagName(DocumentHandle, "x-widget")
	require.NoError(t, err)
	require.Len(t, custom, 1)
	desc, err = doc.Describe(custom[0])
	require.NoError(t, err)
	assert.Equal(t, "HTMLElement", desc.Interface)
}

func TestHandlesAreStable(t *testing.T) {
	doc := mustParse(t, page)

	a, _ := doc.ElementByID("app")
	b, _, err := doc.QuerySelector(DocumentHandle, "#app")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestInvalidSelector(t *testing.T) {
	doc := mustParse(t, page)

	_, err := doc.QuerySelectorAll(DocumentHandle, "p[")
	assert.ErrorIs(t, err, ErrSelector)
}

func TestEvaluate(t *testing.T) {
	doc := mustParse(t, page)

	nodes, err := doc.Evaluate(DocumentHandle, "//div[@id='app']/p")
	require.NoError(t, err)
	assert.Len(t, nodes, 2)

	_, err = doc.Evaluate(DocumentHandle, "//p[")
	assert.Error(t, err)
}

func TestAttributes(t *testing.T) {
	doc := mustParse(t, page)
	app, _ := doc.ElementByID("app")

	v, ok, err := doc.Attribute(app, "CLASS")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "main wide", v)

	require.NoError(t, doc.SetAttribute(app, "data-x", "1"))
	v, ok, _ = doc.Attribute(app, "data-x")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	names, err := doc.AttributeNames(app)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "class", "data-x"}, names)

	require.NoError(t, doc.RemoveAttribute(app, "data-x"))
	_, ok, _ = doc.Attribute(app, "data-x")
	assert.False(t, ok)

	_, _, err = doc.Attribute(DocumentHandle, "id")
	assert.ErrorIs(t, err, ErrNotElement)
	_, _, err = doc.Attribute(999, "id")
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestMutationsAndChanges(t *testing.T) {
	doc := mustParse(t, page)
	body, _ := doc.Body()
	app, _ := doc.ElementByID("app")

	span := doc.CreateElement("SPAN")
	_, attached := doc.Parent(span)
	assert.False(t, attached)

	require.NoError(t, doc.SetTextContent(span, "hi"))
	require.NoError(t, doc.AppendChild(app, span))
	parent, ok := doc.Parent(span)
	require.True(t, ok)
	assert.Equal(t, app, parent)

	found, ok, err := doc.QuerySelector(DocumentHandle, "#app > span")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, span, found)

	assert.ErrorIs(t, doc.AppendChild(span, app), ErrHierarchy)
	assert.ErrorIs(t, doc.RemoveChild(body, span), ErrNotChild)

	require.NoError(t, doc.Remove(span))
	_, ok, _ = doc.QuerySelector(DocumentHandle, "#app > span")
	assert.False(t, ok)

	changes := doc.Changes()
	require.Len(t, changes, 3)
	assert.Equal(t, Change{Type: "set_text", Selector: "span", Property: "textContent", Value: "hi"}, changes[0])
	assert.Equal(t, Change{Type: "append_child", Selector: "#app", Value: "span"}, changes[1])
	assert.Equal(t, Change{Type: "remove", Selector: "span"}, changes[2])
}

func TestInsertBefore(t *testing.T) {
	doc := mustParse(t, page)
	app, _ := doc.ElementByID("app")
	kids, err := doc.Children(app)
	require.NoError(t, err)
	require.Len(t, kids, 3)

	el := doc.CreateElement("b")
	require.NoError(t, doc.InsertBefore(app, el, kids[0]))

	kids, err = doc.Children(app)
	require.NoError(t, err)
	assert.Equal(t, el, kids[0])

	other := doc.CreateElement("i")
	assert.ErrorIs(t, doc.InsertBefore(app, other, other), ErrNotChild)
}

func TestInnerHTML(t *testing.T) {
	doc := mustParse(t, page)
	app, _ := doc.ElementByID("app")

	require.NoError(t, doc.SetInnerHTML(app, `<em>x</em>y`))
	inner, err := doc.InnerHTML(app)
	require.NoError(t, err)
	assert.Equal(t, `<em>x</em>y`, inner)

	outer, err := doc.OuterHTML(app)
	require.NoError(t, err)
	assert.Equal(t, `<div id="app" class="main wide"><em>x</em>y</div>`, outer)

	nodes, err := doc.ChildNodes(app)
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
	text, _ := doc.TextContent(app)
	assert.Equal(t, "xy", text)
}
