package surface

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Observer receives attribute changes on an element.
type Observer func(name, oldValue, newValue string)

// ScriptHost evaluates fetched script source and publishes a named payload.
// Drop removes a published payload once its last consumer is done with it.
type ScriptHost interface {
	Eval(ctx context.Context, name string, src []byte) (any, error)
	Drop(name string)
}

// Element is one node of a presentation tree. All methods are safe for
// concurrent use.
type Element struct {
	mu        sync.Mutex
	tag       string
	id        uint64
	attrs     map[string]string
	children  []*Element
	parent    *Element
	scope     *Element
	doc       *Document
	observers []Observer
	links     map[string]map[string]string
}

// OpaqueConfigValue marks elements as opaque to configuration resolution.
func (e *Element) OpaqueConfigValue() {}

// Tag returns the element's tag name.
func (e *Element) Tag() string { return e.tag }

// Document returns the document the element belongs to.
func (e *Element) Document() *Document { return e.doc }

func (e *Element) String() string {
	return fmt.Sprintf("<%s#%d>", e.tag, e.id)
}

// SetAttr sets an attribute and notifies observers when the value changed.
func (e *Element) SetAttr(name, value string) {
	e.mu.Lock()
	old := e.attrs[name]
	if old == value {
		e.mu.Unlock()
		return
	}
	e.attrs[name] = value
	observers := append([]Observer(nil), e.observers...)
	e.mu.Unlock()

	for _, fn := range observers {
		fn(name, old, value)
	}
}

// Attr returns the attribute value and whether it is set.
func (e *Element) Attr(name string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.attrs[name]
	return v, ok
}

// Observe registers an attribute observer on the element.
func (e *Element) Observe(fn Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, fn)
}

// Append mounts child under e, detaching it from any previous parent.
func (e *Element) Append(child *Element) {
	if child == nil || child == e {
		return
	}
	child.Detach()
	e.mu.Lock()
	e.children = append(e.children, child)
	e.mu.Unlock()
	child.mu.Lock()
	child.parent = e
	child.mu.Unlock()
}

// Detach removes the element from its parent, if any.
func (e *Element) Detach() {
	e.mu.Lock()
	parent := e.parent
	e.parent = nil
	e.mu.Unlock()
	if parent == nil {
		return
	}
	parent.mu.Lock()
	for i, c := range parent.children {
		if c == e {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			break
		}
	}
	parent.mu.Unlock()
}

// Clear detaches every child of the element.
func (e *Element) Clear() {
	for _, c := range e.Children() {
		c.Detach()
	}
}

// Children returns a snapshot of the element's children. Contents of an
// attached scope are not included; the scope boundary does not leak.
func (e *Element) Children() []*Element {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Element(nil), e.children...)
}

// Parent returns the element's parent, or nil when detached.
func (e *Element) Parent() *Element {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.parent
}

// AttachScope creates and returns the element's encapsulated child scope.
// Repeated calls return the same scope root. Internal structure and styling
// of the scope is invisible through Children.
func (e *Element) AttachScope() *Element {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.scope == nil {
		e.scope = e.doc.newElement("scope")
		e.scope.parent = e
	}
	return e.scope
}

// Scope returns the encapsulated child scope, or nil when none is attached.
func (e *Element) Scope() *Element {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scope
}

// AddStylesheet records a stylesheet link in this scope. It reports false
// when an identical link is already present.
func (e *Element) AddStylesheet(href string, attrs map[string]string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.links == nil {
		e.links = make(map[string]map[string]string)
	}
	if _, ok := e.links[href]; ok {
		return false
	}
	copied := make(map[string]string, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	e.links[href] = copied
	return true
}

// HasStylesheet reports whether the scope already carries the link.
func (e *Element) HasStylesheet(href string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.links[href]
	return ok
}

// Attached reports whether the element is reachable from the document's
// visible root. Elements parked on the off-screen anchor are not attached.
func (e *Element) Attached() bool {
	for cur := e; cur != nil; cur = cur.Parent() {
		if cur == e.doc.root {
			return true
		}
		if cur == e.doc.anchor {
			return false
		}
	}
	return false
}

// Document is the headless surface a runtime renders into. It owns a visible
// root and an off-screen anchor used to temporarily graft detached containers
// while their contents resolve.
type Document struct {
	root   *Element
	anchor *Element
	nextID atomic.Uint64
}

// OpaqueConfigValue marks documents as opaque to configuration resolution.
func (d *Document) OpaqueConfigValue() {}

// NewDocument creates an empty document.
func NewDocument() *Document {
	d := &Document{}
	d.root = d.newElement("root")
	d.anchor = d.newElement("anchor")
	return d
}

func (d *Document) newElement(tag string) *Element {
	return &Element{
		tag:   tag,
		id:    d.nextID.Add(1),
		attrs: make(map[string]string),
		doc:   d,
	}
}

// CreateElement creates a detached element in this document.
func (d *Document) CreateElement(tag string) *Element {
	return d.newElement(tag)
}

// Root returns the visible root of the document.
func (d *Document) Root() *Element { return d.root }

// Graft parks el on the off-screen anchor and returns a restore function that
// puts it back where it was (or detaches it again if it had no parent).
func (d *Document) Graft(el *Element) func() {
	prev := el.Parent()
	d.anchor.Append(el)
	return func() {
		if prev != nil {
			prev.Append(el)
			return
		}
		el.Detach()
	}
}
