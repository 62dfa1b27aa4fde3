package dom

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bound(t *testing.T) (*goja.Runtime, *Document) {
	t.Helper()
	doc := mustParse(t, page)
	rt := goja.New()
	require.NoError(t, rt.Set("dom", Bind(rt, doc)))
	return rt, doc
}

func TestBindQueries(t *testing.T) {
	rt, _ := bound(t)

	tests := []struct {
		name string
		src  string
		want any
	}{
		{"byId describe", `dom.describe(dom.byId("app")).tagName`, "DIV"},
		{"missing id", `dom.byId("nope")`, nil},
		{"queryAll", `dom.queryAll(dom.root(), "p").length`, int64(2)},
		{"text", `dom.text(dom.query(dom.root(), ".hidden"))`, "two"},
		{"attributes", `dom.describe(dom.byId("app")).attributes["class"]`, "main wide"},
		{"defaults", `dom.describe(dom.byId("c")).defaults.width`, int64(300)},
		{"interface", `dom.describe(dom.byId("c")).interface`, "HTMLCanvasElement"},
		{"evaluate", `dom.evaluate(dom.root(), "//p").length`, int64(2)},
		{"getAttr missing", `dom.getAttr(dom.byId("app"), "title")`, nil},
		{"title", `dom.title()`, "Demo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := rt.RunString(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Export())
		})
	}
}

func TestBindMutations(t *testing.T) {
	rt, doc := bound(t)

	v, err := rt.RunString(`
		var el = dom.create("span");
		dom.setAttr(el, "id", "s");
		dom.setText(el, "hello");
		dom.append(dom.body(), el);
		dom.text(dom.byId("s"));
	`)
	require.NoError(t, err)
	assert.Equal(t, "hello", v.String())
	assert.Len(t, doc.Changes(), 3)
}

func TestBindErrors(t *testing.T) {
	rt, _ := bound(t)

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"bad selector", `dom.query(dom.root(), "p[")`, "SyntaxError"},
		{"unknown handle", `dom.text(12345)`, "TypeError"},
		{"hierarchy", `dom.append(dom.byId("app"), dom.body())`, "HierarchyRequestError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := rt.RunString("(function () { try { " + tt.src + "; return 'none' } catch (e) { return e.name } })()")
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.String())
		})
	}
}
