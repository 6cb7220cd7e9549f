// Package pathtree implements a byte-level prefix tree over filesystem
// paths. Entries are inserted either as literals, matching only the exact
// path, or as prefixes, matching the path and everything nested under it.
// A literal entry always wins over an ancestor prefix entry.
//
// A Tree is built once and never mutated afterward, so it can be shared
// across goroutines without locking.
package pathtree

// node is one byte of an inserted path. literal and prefix values are
// tracked separately so that "/etc" inserted as a literal and "/etc/"
// inserted as a prefix can coexist.
type node[V any] struct {
	children map[byte]*node[V]

	literal    V
	hasLiteral bool

	prefix    V
	hasPrefix bool
}

func newNode[V any]() *node[V] {
	return &node[V]{children: make(map[byte]*node[V])}
}

// Tree maps path byte sequences to values of type V.
type Tree[V any] struct {
	root  *node[V]
	count int
}

// New returns an empty tree.
func New[V any]() *Tree[V] {
	return &Tree[V]{root: newNode[V]()}
}

// InsertLiteral adds an entry that matches only the exact path.
// Inserting the same literal path twice replaces the stored value.
func (t *Tree[V]) InsertLiteral(path string, value V) {
	n := t.walk(path)
	if !n.hasLiteral {
		t.count++
	}
	n.literal = value
	n.hasLiteral = true
}

// InsertPrefix adds an entry that matches the path and every path nested
// under it. Inserting the same prefix path twice replaces the stored value.
func (t *Tree[V]) InsertPrefix(path string, value V) {
	n := t.walk(path)
	if !n.hasPrefix {
		t.count++
	}
	n.prefix = value
	n.hasPrefix = true
}

// walk descends to the node for the final byte of path, creating
// intermediate nodes as needed.
func (t *Tree[V]) walk(path string) *node[V] {
	n := t.root
	for i := 0; i < len(path); i++ {
		child, ok := n.children[path[i]]
		if !ok {
			child = newNode[V]()
			n.children[path[i]] = child
		}
		n = child
	}
	return n
}

// Lookup resolves path to the most specific matching entry: an exact
// literal match if one exists, otherwise the deepest prefix entry that is
// a full prefix of path. The second return reports whether any entry
// matched.
func (t *Tree[V]) Lookup(path string) (V, bool) {
	var best V
	found := false

	n := t.root
	if n.hasPrefix {
		best = n.prefix
		found = true
	}
	for i := 0; i < len(path); i++ {
		child, ok := n.children[path[i]]
		if !ok {
			return best, found
		}
		n = child
		if n.hasPrefix {
			best = n.prefix
			found = true
		}
	}
	if n.hasLiteral {
		return n.literal, true
	}
	return best, found
}

// Contains reports whether path resolves to any entry.
func (t *Tree[V]) Contains(path string) bool {
	_, ok := t.Lookup(path)
	return ok
}

// Len returns the number of distinct entries inserted.
func (t *Tree[V]) Len() int {
	return t.count
}
