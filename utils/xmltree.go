package utils

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// DefaultIndent is the indent step used when the existing layout of a
// document cannot be measured.
const DefaultIndent = 4

// maximum indent accepted from a measured document
const maxIndent = 64

// FindNamed returns the first child element of parent with the given
// local name. With recursive set, descendants are searched depth first
// when no direct child matches.
func FindNamed(parent *etree.Element, name string, recursive bool) *etree.Element {
	if parent == nil {
		return nil
	}
	for _, child := range parent.ChildElements() {
		if child.Tag == name {
			return child
		}
	}
	if !recursive {
		return nil
	}
	for _, child := range parent.ChildElements() {
		if found := FindNamed(child, name, true); found != nil {
			return found
		}
	}
	return nil
}

// FindNamedOrSelf is FindNamed that also matches el itself.
func FindNamedOrSelf(el *etree.Element, name string, recursive bool) *etree.Element {
	if el != nil && el.Tag == name {
		return el
	}
	return FindNamed(el, name, recursive)
}

// ChildrenNamed returns all child elements of parent with the local name.
func ChildrenNamed(parent *etree.Element, name string) []*etree.Element {
	var out []*etree.Element
	for _, child := range parent.ChildElements() {
		if child.Tag == name {
			out = append(out, child)
		}
	}
	return out
}

// QName joins a prefix and a local name.
func QName(prefix, local string) string {
	if len(prefix) == 0 {
		return local
	}
	return prefix + ":" + local
}

// LookupPrefix finds the prefix bound to uri in the scope of el. The
// default namespace is reported as the empty prefix.
func LookupPrefix(el *etree.Element, uri string) (string, bool) {
	seen := map[string]bool{}
	for e := el; e != nil; e = e.Parent() {
		for _, a := range e.Attr {
			prefix, ok := nsDeclPrefix(a)
			if !ok || seen[prefix] {
				continue
			}
			seen[prefix] = true
			if a.Value == uri {
				return prefix, true
			}
		}
	}
	return "", false
}

// LookupNamespaceURI resolves prefix in the scope of el.
func LookupNamespaceURI(el *etree.Element, prefix string) (string, bool) {
	for e := el; e != nil; e = e.Parent() {
		for _, a := range e.Attr {
			if p, ok := nsDeclPrefix(a); ok && p == prefix {
				return a.Value, true
			}
		}
	}
	return "", false
}

func nsDeclPrefix(a etree.Attr) (string, bool) {
	if a.Space == "xmlns" {
		return a.Key, true
	}
	if a.Space == "" && a.Key == "xmlns" {
		return "", true
	}
	return "", false
}

// EnsureNamespace returns a prefix bound to uri in the scope of el,
// declaring it on el with the preferred prefix when needed.
func EnsureNamespace(el *etree.Element, uri, preferred string) string {
	if prefix, ok := LookupPrefix(el, uri); ok {
		return prefix
	}
	prefix := preferred
	for i := 1; ; i++ {
		if _, taken := LookupNamespaceURI(el, prefix); !taken {
			break
		}
		prefix = fmt.Sprintf("%s%d", preferred, i)
	}
	el.CreateAttr("xmlns:"+prefix, uri)
	return prefix
}

// InheritNamespaces copies namespace declarations that are in scope
// through the ancestors of el onto el itself, so el can be serialised
// or moved on its own.
func InheritNamespaces(el *etree.Element) {
	declared := map[string]bool{}
	for _, a := range el.Attr {
		if p, ok := nsDeclPrefix(a); ok {
			declared[p] = true
		}
	}
	for e := el.Parent(); e != nil; e = e.Parent() {
		for _, a := range e.Attr {
			p, ok := nsDeclPrefix(a)
			if !ok || declared[p] {
				continue
			}
			declared[p] = true
			if len(p) == 0 {
				el.CreateAttr("xmlns", a.Value)
			} else {
				el.CreateAttr("xmlns:"+p, a.Value)
			}
		}
	}
}

// ElementString serialises el as a standalone XML fragment.
func ElementString(el *etree.Element) (string, error) {
	doc := etree.NewDocument()
	doc.SetRoot(el.Copy())
	return doc.WriteToString()
}

// precedingWhitespace returns the whitespace text token right before
// el in its parent, if any.
func precedingWhitespace(el *etree.Element) *etree.CharData {
	parent := el.Parent()
	idx := el.Index()
	if parent == nil || idx <= 0 {
		return nil
	}
	if cd, ok := parent.Child[idx-1].(*etree.CharData); ok && cd.IsWhitespace() {
		return cd
	}
	return nil
}

// IndentOf measures the indentation of el from the whitespace before it.
// It returns -1 when no indentation can be measured.
func IndentOf(el *etree.Element) int {
	cd := precedingWhitespace(el)
	if cd == nil {
		return -1
	}
	nl := strings.LastIndexByte(cd.Data, '\n')
	if nl < 0 {
		return -1
	}
	indent := len(cd.Data) - nl - 1
	if indent > maxIndent {
		return -1
	}
	return indent
}

// IndentStep derives the indent step of a document from an element and
// its parent, falling back to DefaultIndent.
func IndentStep(el *etree.Element) int {
	inner := IndentOf(el)
	outer := 0
	if p := el.Parent(); p != nil && !isRoot(p) {
		outer = IndentOf(p)
	}
	step := inner - outer
	if inner < 0 || outer < 0 || step <= 0 || step > maxIndent {
		return DefaultIndent
	}
	return step
}

// isRoot reports whether el is the document element, or detached.
func isRoot(el *etree.Element) bool {
	p := el.Parent()
	return p == nil || p.Parent() == nil
}

func newline(indent int) string {
	return "\n" + strings.Repeat(" ", indent)
}

// InsertSiblingAfter inserts el right after ref, repeating the
// whitespace that precedes ref so both line up.
func InsertSiblingAfter(ref *etree.Element, el etree.Token) {
	parent := ref.Parent()
	idx := ref.Index() + 1
	if ws := precedingWhitespace(ref); ws != nil {
		parent.InsertChildAt(idx, etree.NewCharData(ws.Data))
		idx++
	}
	parent.InsertChildAt(idx, el)
}

// AppendChildIndented adds el as the last child element of parent,
// indented one step deeper than parent.
func AppendChildIndented(parent *etree.Element, el etree.Token, step int) {
	outer := IndentOf(parent)
	if outer < 0 {
		outer = 0
	}
	if step <= 0 {
		step = DefaultIndent
	}

	n := len(parent.Child)
	if onlyWhitespace(parent) {
		for len(parent.Child) > 0 {
			parent.RemoveChildAt(0)
		}
		parent.AddChild(etree.NewCharData(newline(outer + step)))
		parent.AddChild(el)
		parent.AddChild(etree.NewCharData(newline(outer)))
		return
	}

	if cd, ok := parent.Child[n-1].(*etree.CharData); ok && cd.IsWhitespace() {
		parent.InsertChildAt(n-1, etree.NewCharData(newline(outer+step)))
		parent.InsertChildAt(n, el)
		return
	}
	parent.AddChild(el)
}

func onlyWhitespace(el *etree.Element) bool {
	for _, t := range el.Child {
		cd, ok := t.(*etree.CharData)
		if !ok || !cd.IsWhitespace() {
			return false
		}
	}
	return true
}

// RemoveElement detaches el from its parent together with the
// whitespace that indents it.
func RemoveElement(el *etree.Element) {
	parent := el.Parent()
	if parent == nil {
		return
	}
	if ws := precedingWhitespace(el); ws != nil {
		parent.RemoveChild(ws)
	}
	parent.RemoveChild(el)
}
