package dom

import (
	"errors"

	"github.com/dop251/goja"
)

// Bind exposes doc to scripts as an object of host functions. Nodes cross
// the boundary as integer handles; describe(handle) returns the plain
// descriptor a stub turns into an element object. Missing nodes are null.
func Bind(rt *goja.Runtime, doc *Document) *goja.Object {
	b := &binding{rt: rt, doc: doc}
	obj := rt.NewObject()
	set := func(name string, fn func(goja.FunctionCall) goja.Value) {
		_ = obj.Set(name, fn)
	}

	set("root", func(goja.FunctionCall) goja.Value { return rt.ToValue(DocumentHandle) })
	set("documentElement", func(goja.FunctionCall) goja.Value { return b.optional(doc.DocumentElement()) })
	set("head", func(goja.FunctionCall) goja.Value { return b.optional(doc.Head()) })
	set("body", func(goja.FunctionCall) goja.Value { return b.optional(doc.Body()) })
	set("title", func(goja.FunctionCall) goja.Value { return rt.ToValue(doc.Title()) })
	set("describe", b.describe)

	set("query", func(call goja.FunctionCall) goja.Value {
		h, ok, err := doc.QuerySelector(b.handle(call, 0), call.Argument(1).String())
		b.check(err)
		return b.optional(h, ok)
	})
	set("queryAll", func(call goja.FunctionCall) goja.Value {
		return b.list(doc.QuerySelectorAll(b.handle(call, 0), call.Argument(1).String()))
	})
	set("byId", func(call goja.FunctionCall) goja.Value {
		return b.optional(doc.ElementByID(call.Argument(0).String()))
	})
	set("byTag", func(call goja.FunctionCall) goja.Value {
		return b.list(doc.ElementsByTagName(b.handle(call, 0), call.Argument(1).String()))
	})
	set("byClass", func(call goja.FunctionCall) goja.Value {
		return b.list(doc.ElementsByClassName(b.handle(call, 0), call.Argument(1).String()))
	})
	set("evaluate", func(call goja.FunctionCall) goja.Value {
		return b.list(doc.Evaluate(b.handle(call, 0), call.Argument(1).String()))
	})

	set("create", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(doc.CreateElement(call.Argument(0).String()))
	})
	set("createText", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(doc.CreateTextNode(call.Argument(0).String()))
	})

	set("getAttr", func(call goja.FunctionCall) goja.Value {
		v, ok, err := doc.Attribute(b.handle(call, 0), call.Argument(1).String())
		b.check(err)
		if !ok {
			return goja.Null()
		}
		return rt.ToValue(v)
	})
	set("setAttr", func(call goja.FunctionCall) goja.Value {
		b.check(doc.SetAttribute(b.handle(call, 0), call.Argument(1).String(), call.Argument(2).String()))
		return goja.Undefined()
	})
	set("removeAttr", func(call goja.FunctionCall) goja.Value {
		b.check(doc.RemoveAttribute(b.handle(call, 0), call.Argument(1).String()))
		return goja.Undefined()
	})
	set("attrNames", func(call goja.FunctionCall) goja.Value {
		names, err := doc.AttributeNames(b.handle(call, 0))
		b.check(err)
		return rt.ToValue(names)
	})

	set("append", func(call goja.FunctionCall) goja.Value {
		b.check(doc.AppendChild(b.handle(call, 0), b.handle(call, 1)))
		return goja.Undefined()
	})
	set("insertBefore", func(call goja.FunctionCall) goja.Value {
		ref := -1
		if r := call.Argument(2); !goja.IsNull(r) && !goja.IsUndefined(r) {
			ref = int(r.ToInteger())
		}
		b.check(doc.InsertBefore(b.handle(call, 0), b.handle(call, 1), ref))
		return goja.Undefined()
	})
	set("remove", func(call goja.FunctionCall) goja.Value {
		b.check(doc.Remove(b.handle(call, 0)))
		return goja.Undefined()
	})
	set("removeChild", func(call goja.FunctionCall) goja.Value {
		b.check(doc.RemoveChild(b.handle(call, 0), b.handle(call, 1)))
		return goja.Undefined()
	})
	set("parent", func(call goja.FunctionCall) goja.Value {
		return b.optional(doc.Parent(b.handle(call, 0)))
	})
	set("children", func(call goja.FunctionCall) goja.Value {
		return b.list(doc.Children(b.handle(call, 0)))
	})
	set("childNodes", func(call goja.FunctionCall) goja.Value {
		return b.list(doc.ChildNodes(b.handle(call, 0)))
	})

	set("text", func(call goja.FunctionCall) goja.Value {
		s, err := doc.TextContent(b.handle(call, 0))
		b.check(err)
		return rt.ToValue(s)
	})
	set("setText", func(call goja.FunctionCall) goja.Value {
		b.check(doc.SetTextContent(b.handle(call, 0), call.Argument(1).String()))
		return goja.Undefined()
	})
	set("html", func(call goja.FunctionCall) goja.Value {
		s, err := doc.InnerHTML(b.handle(call, 0))
		b.check(err)
		return rt.ToValue(s)
	})
	set("outerHTML", func(call goja.FunctionCall) goja.Value {
		s, err := doc.OuterHTML(b.handle(call, 0))
		b.check(err)
		return rt.ToValue(s)
	})
	set("setHTML", func(call goja.FunctionCall) goja.Value {
		b.check(doc.SetInnerHTML(b.handle(call, 0), call.Argument(1).String()))
		return goja.Undefined()
	})

	return obj
}

type binding struct {
	rt  *goja.Runtime
	doc *Document
}

func (b *binding) handle(call goja.FunctionCall, i int) int {
	return int(call.Argument(i).ToInteger())
}

func (b *binding) optional(h int, ok bool) goja.Value {
	if !ok {
		return goja.Null()
	}
	return b.rt.ToValue(h)
}

func (b *binding) list(handles []int, err error) goja.Value {
	b.check(err)
	out := make([]any, len(handles))
	for i, h := range handles {
		out[i] = h
	}
	return b.rt.NewArray(out...)
}

func (b *binding) describe(call goja.FunctionCall) goja.Value {
	n, err := b.doc.Describe(b.handle(call, 0))
	if err != nil {
		return goja.Null()
	}
	obj := b.rt.NewObject()
	_ = obj.Set("handle", n.Handle)
	_ = obj.Set("nodeType", n.NodeType)
	_ = obj.Set("nodeName", n.NodeName)
	_ = obj.Set("interface", n.Interface)
	if n.NodeType == 1 {
		_ = obj.Set("tagName", n.TagName)
		_ = obj.Set("id", n.ID)
		_ = obj.Set("className", n.ClassName)
		attrs := b.rt.NewObject()
		for k, v := range n.Attributes {
			_ = attrs.Set(k, v)
		}
		_ = obj.Set("attributes", attrs)
		defaults := b.rt.NewObject()
		for k, v := range n.Defaults {
			_ = defaults.Set(k, v)
		}
		_ = obj.Set("defaults", defaults)
	}
	return obj
}

// check throws err into the script as the DOM error a browser would raise.
func (b *binding) check(err error) {
	if err == nil {
		return
	}
	name := "Error"
	switch {
	case errors.Is(err, ErrSelector):
		name = "SyntaxError"
	case errors.Is(err, ErrUnknownHandle), errors.Is(err, ErrNotElement):
		name = "TypeError"
	}
	var obj *goja.Object
	if ctor, ok := goja.AssertConstructor(b.rt.Get(name)); ok {
		obj, _ = ctor(nil, b.rt.ToValue(err.Error()))
	}
	if obj == nil {
		obj = b.rt.NewGoError(err)
	}
	switch {
	case errors.Is(err, ErrHierarchy):
		_ = obj.Set("name", "HierarchyRequestError")
	case errors.Is(err, ErrNotChild):
		_ = obj.Set("name", "NotFoundError")
	}
	panic(obj)
}
