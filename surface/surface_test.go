package surface

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachment(t *testing.T) {
	doc := NewDocument()
	el := doc.CreateElement("div")

	assert.False(t, el.Attached(), "detached element must not be attached")

	doc.Root().Append(el)
	assert.True(t, el.Attached())

	child := doc.CreateElement("span")
	el.Append(child)
	assert.True(t, child.Attached())

	el.Detach()
	assert.False(t, el.Attached())
	assert.False(t, child.Attached())
}

func TestGraftRestoresOriginalPosition(t *testing.T) {
	doc := NewDocument()
	holder := doc.CreateElement("div")
	doc.Root().Append(holder)
	el := doc.CreateElement("div")
	holder.Append(el)

	restore := doc.Graft(el)
	assert.False(t, el.Attached(), "anchored element is off-screen")

	restore()
	require.Equal(t, holder, el.Parent())
	assert.True(t, el.Attached())
}

func TestGraftDetachedElement(t *testing.T) {
	doc := NewDocument()
	el := doc.CreateElement("div")

	restore := doc.Graft(el)
	restore()
	assert.Nil(t, el.Parent(), "element with no original parent ends up detached")
}

func TestScopeDoesNotLeak(t *testing.T) {
	doc := NewDocument()
	host := doc.CreateElement("div")
	doc.Root().Append(host)

	scope := host.AttachScope()
	require.NotNil(t, scope)
	assert.Same(t, scope, host.AttachScope(), "scope attachment is idempotent")

	inner := doc.CreateElement("p")
	scope.Append(inner)

	assert.Empty(t, host.Children(), "scope internals are invisible from outside")
	assert.True(t, inner.Attached(), "scope contents still count as attached")
}

func TestStylesheetIdempotence(t *testing.T) {
	doc := NewDocument()
	scope := doc.CreateElement("div").AttachScope()

	require.True(t, scope.AddStylesheet("theme.css", map[string]string{"media": "all"}))
	assert.False(t, scope.AddStylesheet("theme.css", nil), "identical link short-circuits")
	assert.True(t, scope.HasStylesheet("theme.css"))
	assert.False(t, scope.HasStylesheet("other.css"))
}

func TestAttributeObservers(t *testing.T) {
	doc := NewDocument()
	el := doc.CreateElement("div")

	type change struct{ name, old, new string }
	var seen []change
	el.Observe(func(name, oldValue, newValue string) {
		seen = append(seen, change{name, oldValue, newValue})
	})

	el.SetAttr("title", "a")
	el.SetAttr("title", "a") // unchanged, no notification
	el.SetAttr("title", "b")

	require.Len(t, seen, 2)
	assert.Equal(t, change{"title", "", "a"}, seen[0])
	assert.Equal(t, change{"title", "a", "b"}, seen[1])

	v, ok := el.Attr("title")
	require.True(t, ok)
	assert.Equal(t, "b", v)
}
