package sandbox

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/felixgeelhaar/gradebox/internal/dom"
)

// domBinding exposes the parsed document to scripts. Node wrappers are
// cached so that the same node is always the same JS object.
type domBinding struct {
	iso       *gojaIsolate
	root      *html.Node
	objects   map[*html.Node]*goja.Object
	nodes     map[*goja.Object]*html.Node
	listeners map[*html.Node]map[string][]listener
}

func newDOMBinding(iso *gojaIsolate) *domBinding {
	b := &domBinding{
		iso:       iso,
		objects:   make(map[*html.Node]*goja.Object),
		nodes:     make(map[*goja.Object]*html.Node),
		listeners: make(map[*html.Node]map[string][]listener),
	}
	iso.doc.Read(func(d *goquery.Document) {
		b.root = d.Selection.Nodes[0]
	})
	return b
}

func (b *domBinding) document() *goja.Object {
	return b.wrap(b.root)
}

func (b *domBinding) vm() *goja.Runtime { return b.iso.vm }

func (b *domBinding) wrap(n *html.Node) *goja.Object {
	if obj, ok := b.objects[n]; ok {
		return obj
	}
	obj := b.vm().NewDynamicObject(&nodeObject{b: b, node: n, extra: make(map[string]goja.Value)})
	b.objects[n] = obj
	b.nodes[obj] = n
	return obj
}

func (b *domBinding) value(n *html.Node) goja.Value {
	if n == nil {
		return goja.Null()
	}
	return b.wrap(n)
}

func (b *domBinding) unwrap(v goja.Value) (*html.Node, bool) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	n, ok := b.nodes[obj]
	return n, ok
}

func (b *domBinding) array(nodes []*html.Node) goja.Value {
	items := make([]any, len(nodes))
	for n, node := range nodes {
		items[n] = b.wrap(node)
	}
	return b.vm().NewArray(items...)
}

func (b *domBinding) throw(format string, args ...any) {
	panic(b.vm().NewGoError(fmt.Errorf(format, args...)))
}

func (b *domBinding) read(fn func()) {
	b.iso.doc.Read(func(*goquery.Document) { fn() })
}

func (b *domBinding) write(fn func()) {
	b.iso.doc.Write(func(*goquery.Document) { fn() })
}

// fire dispatches a DOM event on n, bubbling to its ancestors when asked.
// It returns false once the isolate was interrupted.
func (b *domBinding) fire(n *html.Node, typ string, bubbles bool) bool {
	ev := b.vm().NewObject()
	_ = ev.Set("type", typ)
	_ = ev.Set("target", b.wrap(n))
	_ = ev.Set("preventDefault", noop)
	stopped := false
	_ = ev.Set("stopPropagation", func(goja.FunctionCall) goja.Value {
		stopped = true
		return goja.Undefined()
	})

	for cur := n; cur != nil; cur = cur.Parent {
		this := b.wrap(cur)
		_ = ev.Set("currentTarget", this)

		handlers := append([]listener(nil), b.listeners[cur][typ]...)
		if prop, ok := b.objects[cur]; ok {
			if h := prop.Get("on" + strings.ToLower(typ)); h != nil {
				if fn, ok := goja.AssertFunction(h); ok {
					handlers = append(handlers, listener{value: h, fn: fn})
				}
			}
		}
		for _, l := range handlers {
			if !b.iso.invoke(l.fn, this, ev) {
				return false
			}
		}
		if !bubbles || stopped {
			break
		}
	}
	return true
}

// nodeObject is the JS face of one html.Node.
type nodeObject struct {
	b     *domBinding
	node  *html.Node
	extra map[string]goja.Value
}

var nodeKeys = []string{
	"nodeType", "nodeName", "tagName", "id", "className", "textContent",
	"innerText", "innerHTML", "outerHTML", "value", "parentNode",
	"parentElement", "children", "childNodes", "firstChild", "lastChild",
	"firstElementChild", "nextSibling", "previousSibling", "classList", "style",
	"title", "body", "head", "documentElement",
}

func (o *nodeObject) Get(key string) goja.Value {
	if v := o.property(key); v != nil {
		return v
	}
	if fn := o.method(key); fn != nil {
		return o.b.vm().ToValue(fn)
	}
	if v, ok := o.extra[key]; ok {
		return v
	}
	return nil
}

func (o *nodeObject) Set(key string, val goja.Value) bool {
	n := o.node
	switch key {
	case "textContent", "innerText":
		text := val.String()
		o.b.write(func() { setText(n, text) })
	case "innerHTML":
		src := val.String()
		var err error
		o.b.write(func() { err = setInnerHTML(n, src) })
		if err != nil {
			o.b.throw("innerHTML: %v", err)
		}
	case "id", "className", "value":
		name := key
		if key == "className" {
			name = "class"
		}
		value := val.String()
		o.b.write(func() { setAttr(n, name, value) })
	default:
		o.extra[key] = val
	}
	return true
}

func (o *nodeObject) Has(key string) bool {
	return slices.Contains(nodeKeys, key) || o.method(key) != nil || o.extra[key] != nil
}

func (o *nodeObject) Delete(key string) bool {
	delete(o.extra, key)
	return true
}

func (o *nodeObject) Keys() []string {
	keys := append([]string(nil), nodeKeys...)
	for k := range o.extra {
		keys = append(keys, k)
	}
	return keys
}

func (o *nodeObject) property(key string) goja.Value {
	b, n, vm := o.b, o.node, o.b.vm()

	var out goja.Value
	b.read(func() {
		switch key {
		case "nodeType":
			out = vm.ToValue(nodeType(n))
		case "nodeName", "tagName":
			switch n.Type {
			case html.ElementNode:
				out = vm.ToValue(strings.ToUpper(n.Data))
			case html.TextNode:
				out = vm.ToValue("#text")
			case html.DocumentNode:
				out = vm.ToValue("#document")
			}
		case "id":
			out = vm.ToValue(attr(n, "id"))
		case "className":
			out = vm.ToValue(attr(n, "class"))
		case "value":
			out = vm.ToValue(attr(n, "value"))
		case "textContent", "innerText":
			out = vm.ToValue(dom.TextContent(n))
		case "innerHTML":
			out = vm.ToValue(renderChildren(n))
		case "outerHTML":
			var buf bytes.Buffer
			_ = html.Render(&buf, n)
			out = vm.ToValue(buf.String())
		case "title":
			if n.Type == html.DocumentNode {
				if t := findFirst(n, func(c *html.Node) bool { return isElement(c, "title") }); t != nil {
					out = vm.ToValue(dom.TextContent(t))
				} else {
					out = vm.ToValue("")
				}
			}
		}
	})
	if out != nil {
		return out
	}

	var target *html.Node
	var list []*html.Node
	isList := false
	b.read(func() {
		switch key {
		case "parentNode", "parentElement":
			target = n.Parent
		case "firstChild":
			target = n.FirstChild
		case "lastChild":
			target = n.LastChild
		case "nextSibling":
			target = n.NextSibling
		case "previousSibling":
			target = n.PrevSibling
		case "firstElementChild":
			target = findChild(n, func(c *html.Node) bool { return c.Type == html.ElementNode })
		case "children":
			isList, list = true, childNodes(n, true)
		case "childNodes":
			isList, list = true, childNodes(n, false)
		case "documentElement", "body", "head":
			if n.Type == html.DocumentNode {
				name := map[string]string{"documentElement": "html", "body": "body", "head": "head"}[key]
				target = findFirst(n, func(c *html.Node) bool { return isElement(c, name) })
			}
		}
	})

	switch key {
	case "parentNode", "parentElement", "firstChild", "lastChild", "nextSibling",
		"previousSibling", "firstElementChild", "documentElement", "body", "head":
		if key == "parentElement" && target != nil && target.Type != html.ElementNode {
			return goja.Null()
		}
		return b.value(target)
	}
	if isList {
		return b.array(list)
	}

	switch key {
	case "classList":
		return o.classList()
	case "style":
		if v, ok := o.extra["style"]; ok {
			return v
		}
		style := vm.NewObject()
		o.extra["style"] = style
		return style
	}
	return nil
}

func (o *nodeObject) method(key string) func(goja.FunctionCall) goja.Value {
	b, n := o.b, o.node
	switch key {
	case "querySelector", "querySelectorAll":
		all := key == "querySelectorAll"
		return func(call goja.FunctionCall) goja.Value {
			matches := b.query(n, call.Argument(0).String(), all)
			if all {
				return b.array(matches)
			}
			if len(matches) == 0 {
				return goja.Null()
			}
			return b.wrap(matches[0])
		}
	case "getElementById":
		return func(call goja.FunctionCall) goja.Value {
			id := call.Argument(0).String()
			var found *html.Node
			b.read(func() {
				found = findFirst(n, func(c *html.Node) bool { return c.Type == html.ElementNode && attr(c, "id") == id })
			})
			return b.value(found)
		}
	case "getElementsByTagName":
		return func(call goja.FunctionCall) goja.Value {
			tag := strings.ToLower(call.Argument(0).String())
			var out []*html.Node
			b.read(func() {
				out = findAll(n, func(c *html.Node) bool {
					return c.Type == html.ElementNode && (tag == "*" || c.Data == tag)
				})
			})
			return b.array(out)
		}
	case "getElementsByClassName":
		return func(call goja.FunctionCall) goja.Value {
			want := strings.Fields(call.Argument(0).String())
			var out []*html.Node
			b.read(func() {
				out = findAll(n, func(c *html.Node) bool {
					if c.Type != html.ElementNode || len(want) == 0 {
						return false
					}
					have := strings.Fields(attr(c, "class"))
					for _, w := range want {
						if !slices.Contains(have, w) {
							return false
						}
					}
					return true
				})
			})
			return b.array(out)
		}
	case "createElement":
		return func(call goja.FunctionCall) goja.Value {
			tag := strings.ToLower(call.Argument(0).String())
			return b.wrap(&html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))})
		}
	case "createTextNode":
		return func(call goja.FunctionCall) goja.Value {
			return b.wrap(&html.Node{Type: html.TextNode, Data: call.Argument(0).String()})
		}
	case "getAttribute":
		return func(call goja.FunctionCall) goja.Value {
			name := strings.ToLower(call.Argument(0).String())
			var v string
			var ok bool
			b.read(func() { v, ok = lookupAttr(n, name) })
			if !ok {
				return goja.Null()
			}
			return b.vm().ToValue(v)
		}
	case "hasAttribute":
		return func(call goja.FunctionCall) goja.Value {
			name := strings.ToLower(call.Argument(0).String())
			var ok bool
			b.read(func() { _, ok = lookupAttr(n, name) })
			return b.vm().ToValue(ok)
		}
	case "setAttribute":
		return func(call goja.FunctionCall) goja.Value {
			name, value := strings.ToLower(call.Argument(0).String()), call.Argument(1).String()
			b.write(func() { setAttr(n, name, value) })
			return goja.Undefined()
		}
	case "removeAttribute":
		return func(call goja.FunctionCall) goja.Value {
			name := strings.ToLower(call.Argument(0).String())
			b.write(func() { removeAttr(n, name) })
			return goja.Undefined()
		}
	case "appendChild", "append":
		return func(call goja.FunctionCall) goja.Value {
			var last goja.Value = goja.Undefined()
			for _, arg := range call.Arguments {
				child, ok := b.unwrap(arg)
				if !ok {
					child = &html.Node{Type: html.TextNode, Data: arg.String()}
				}
				if err := b.appendChild(n, child); err != nil {
					b.throw("%s: %v", key, err)
				}
				last = b.wrap(child)
			}
			if key == "append" {
				return goja.Undefined()
			}
			return last
		}
	case "removeChild":
		return func(call goja.FunctionCall) goja.Value {
			child, ok := b.unwrap(call.Argument(0))
			if !ok || child.Parent != n {
				b.throw("removeChild: node is not a child")
			}
			b.write(func() { n.RemoveChild(child) })
			return call.Argument(0)
		}
	case "remove":
		return func(goja.FunctionCall) goja.Value {
			b.write(func() {
				if n.Parent != nil {
					n.Parent.RemoveChild(n)
				}
			})
			return goja.Undefined()
		}
	case "contains":
		return func(call goja.FunctionCall) goja.Value {
			other, ok := b.unwrap(call.Argument(0))
			return b.vm().ToValue(ok && isAncestor(n, other))
		}
	case "addEventListener":
		return func(call goja.FunctionCall) goja.Value {
			typ := call.Argument(0).String()
			if fn, ok := goja.AssertFunction(call.Argument(1)); ok {
				if b.listeners[n] == nil {
					b.listeners[n] = make(map[string][]listener)
				}
				b.listeners[n][typ] = append(b.listeners[n][typ], listener{value: call.Argument(1), fn: fn})
			}
			return goja.Undefined()
		}
	case "removeEventListener":
		return func(call goja.FunctionCall) goja.Value {
			typ := call.Argument(0).String()
			if b.listeners[n] != nil {
				b.listeners[n][typ] = without(b.listeners[n][typ], call.Argument(1))
			}
			return goja.Undefined()
		}
	case "click":
		return func(goja.FunctionCall) goja.Value {
			b.fire(n, "click", true)
			return goja.Undefined()
		}
	case "dispatchEvent":
		return func(call goja.FunctionCall) goja.Value {
			ev := call.Argument(0).ToObject(b.vm())
			b.fire(n, ev.Get("type").String(), true)
			return b.vm().ToValue(true)
		}
	}
	return nil
}

func (o *nodeObject) classList() goja.Value {
	b, n, vm := o.b, o.node, o.b.vm()
	list := vm.NewObject()

	update := func(fn func(classes []string) []string) {
		b.write(func() {
			setAttr(n, "class", strings.Join(fn(strings.Fields(attr(n, "class"))), " "))
		})
	}

	_ = list.Set("contains", func(call goja.FunctionCall) goja.Value {
		var ok bool
		b.read(func() { ok = slices.Contains(strings.Fields(attr(n, "class")), call.Argument(0).String()) })
		return vm.ToValue(ok)
	})
	_ = list.Set("add", func(call goja.FunctionCall) goja.Value {
		update(func(classes []string) []string {
			for _, arg := range call.Arguments {
				if c := arg.String(); !slices.Contains(classes, c) {
					classes = append(classes, c)
				}
			}
			return classes
		})
		return goja.Undefined()
	})
	_ = list.Set("remove", func(call goja.FunctionCall) goja.Value {
		update(func(classes []string) []string {
			return slices.DeleteFunc(classes, func(c string) bool {
				for _, arg := range call.Arguments {
					if arg.String() == c {
						return true
					}
				}
				return false
			})
		})
		return goja.Undefined()
	})
	_ = list.Set("toggle", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		present := false
		update(func(classes []string) []string {
			if slices.Contains(classes, name) {
				return slices.DeleteFunc(classes, func(c string) bool { return c == name })
			}
			present = true
			return append(classes, name)
		})
		return vm.ToValue(present)
	})
	return list
}

func (b *domBinding) query(root *html.Node, selector string, all bool) []*html.Node {
	sel, err := dom.Compile(selector)
	if err != nil {
		b.throw("'%s' is not a valid selector", selector)
	}

	var out []*html.Node
	b.read(func() {
		for _, m := range sel.MatchAll(root) {
			if m == root {
				continue
			}
			out = append(out, m)
			if !all {
				break
			}
		}
	})
	return out
}

func (b *domBinding) appendChild(parent, child *html.Node) error {
	if isAncestor(child, parent) {
		return fmt.Errorf("the new child is an ancestor of the parent")
	}
	b.write(func() {
		if child.Parent != nil {
			child.Parent.RemoveChild(child)
		}
		parent.AppendChild(child)
	})
	return nil
}

func nodeType(n *html.Node) int {
	switch n.Type {
	case html.ElementNode:
		return 1
	case html.TextNode:
		return 3
	case html.CommentNode:
		return 8
	case html.DocumentNode:
		return 9
	}
	return 0
}

func isElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && n.Data == tag
}

func isAncestor(ancestor, n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == ancestor {
			return true
		}
	}
	return false
}

func lookupAttr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func attr(n *html.Node, name string) string {
	v, _ := lookupAttr(n, name)
	return v
}

func setAttr(n *html.Node, name, value string) {
	for i := range n.Attr {
		if n.Attr[i].Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

func removeAttr(n *html.Node, name string) {
	n.Attr = slices.DeleteFunc(n.Attr, func(a html.Attribute) bool { return a.Key == name })
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; c = n.FirstChild {
		n.RemoveChild(c)
	}
}

func setText(n *html.Node, text string) {
	if n.Type == html.TextNode {
		n.Data = text
		return
	}
	removeChildren(n)
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

func setInnerHTML(n *html.Node, src string) error {
	if n.Type != html.ElementNode {
		return fmt.Errorf("not an element")
	}
	nodes, err := html.ParseFragment(strings.NewReader(src), n)
	if err != nil {
		return err
	}
	removeChildren(n)
	for _, c := range nodes {
		n.AppendChild(c)
	}
	return nil
}

func renderChildren(n *html.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&buf, c)
	}
	return buf.String()
}

func childNodes(n *html.Node, elementsOnly bool) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !elementsOnly || c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

func findChild(n *html.Node, match func(*html.Node) bool) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if match(c) {
			return c
		}
	}
	return nil
}

// findFirst returns the first descendant of n, in document order, that
// matches.
func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if match(c) {
			return c
		}
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if match(c) {
			out = append(out, c)
		}
		out = append(out, findAll(c, match)...)
	}
	return out
}
