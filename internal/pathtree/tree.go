// internal/pathtree/tree.go
package pathtree

import (
	"errors"
	"slices"
	"strings"
	"sync"
)

// ErrStop can be returned from a Walk callback to end the walk early
var ErrStop = errors.New("pathtree: stop walk")

type node[T any] struct {
	name     string
	key      string
	parent   *node[T]
	children []*node[T] // sorted by key
	leaf     bool
	value    T
}

func (n *node[T]) find(key string) (int, bool) {
	return slices.BinarySearchFunc(n.children, key, func(c *node[T], k string) int {
		return strings.Compare(c.key, k)
	})
}

func (n *node[T]) child(key string) *node[T] {
	if i, ok := n.find(key); ok {
		return n.children[i]
	}
	return nil
}

func (n *node[T]) detach(c *node[T]) {
	if i, ok := n.find(c.key); ok {
		n.children = slices.Delete(n.children, i, i+1)
	}
}

// Entry is a leaf returned by Walk and Entries
type Entry[T any] struct {
	Path  string
	Value T
}

// Tree maps hierarchical paths to values. Leaves hold values; folders only
// hold children. Siblings are kept in case-insensitive lexicographic order.
// All methods are safe for concurrent use.
type Tree[T any] struct {
	mu    sync.RWMutex
	sep   rune
	root  *node[T]
	count int
}

// New creates an empty tree using sep between path segments
func New[T any](sep rune) *Tree[T] {
	if sep == 0 {
		sep = DefaultSeparator
	}
	return &Tree[T]{
		sep:  sep,
		root: &node[T]{},
	}
}

// Separator returns the segment separator
func (t *Tree[T]) Separator() rune {
	return t.sep
}

// Parse parses s with the tree's separator
func (t *Tree[T]) Parse(s string) (Path, error) {
	return Parse(s, t.sep)
}

// Insert creates or replaces the leaf at path. It reports whether an
// existing leaf was replaced.
func (t *Tree[T]) Insert(path string, value T) (bool, error) {
	p, err := t.Parse(path)
	if err != nil {
		return false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Validate the whole route before creating anything.
	cur := t.root
	for i, seg := range p.segments {
		next := cur.child(fold(seg))
		if next == nil {
			break
		}
		last := i == len(p.segments)-1
		if next.leaf && !last {
			return false, ErrConflict
		}
		if !next.leaf && last {
			return false, ErrConflict
		}
		cur = next
	}

	cur = t.root
	for _, seg := range p.segments {
		key := fold(seg)
		i, ok := cur.find(key)
		if ok {
			cur = cur.children[i]
			continue
		}
		n := &node[T]{name: seg, key: key, parent: cur}
		cur.children = slices.Insert(cur.children, i, n)
		cur = n
	}

	replaced := cur.leaf
	if !cur.leaf {
		t.count++
	}
	cur.leaf = true
	cur.value = value
	return replaced, nil
}

func (t *Tree[T]) lookup(p Path) *node[T] {
	cur := t.root
	for _, seg := range p.segments {
		cur = cur.child(fold(seg))
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Get returns the value of the leaf at path
func (t *Tree[T]) Get(path string) (T, bool) {
	var zero T
	p, err := t.Parse(path)
	if err != nil {
		return zero, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.lookup(p)
	if n == nil || !n.leaf {
		return zero, false
	}
	return n.value, true
}

// Has reports whether path designates a leaf
func (t *Tree[T]) Has(path string) bool {
	_, ok := t.Get(path)
	return ok
}

// HasFolder reports whether path designates a folder
func (t *Tree[T]) HasFolder(path string) bool {
	p, err := t.Parse(path)
	if err != nil {
		return false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.lookup(p)
	return n != nil && !n.leaf
}

// Remove deletes the leaf at path and prunes folders left empty. It
// returns the removed value.
func (t *Tree[T]) Remove(path string) (T, bool) {
	var zero T
	p, err := t.Parse(path)
	if err != nil {
		return zero, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.lookup(p)
	if n == nil || !n.leaf {
		return zero, false
	}

	value := n.value
	n.leaf = false
	n.value = zero
	t.count--

	for n != t.root && !n.leaf && len(n.children) == 0 {
		parent := n.parent
		parent.detach(n)
		n = parent
	}
	return value, true
}

// Len returns the number of leaves
func (t *Tree[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}

// Clear removes every entry
func (t *Tree[T]) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = &node[T]{}
	t.count = 0
}

// Entries returns the leaves under prefix in order. An empty prefix
// selects the whole tree; a prefix naming a leaf selects just that leaf.
func (t *Tree[T]) Entries(prefix string) []Entry[T] {
	t.mu.RLock()
	defer t.mu.RUnlock()

	start := t.root
	var base []string
	if strings.TrimSpace(prefix) != "" {
		p, err := t.Parse(prefix)
		if err != nil {
			return nil
		}
		start = t.lookup(p)
		if start == nil {
			return nil
		}
		base = routeOf(start)
	}

	var out []Entry[T]
	t.collect(start, base, &out)
	return out
}

func routeOf[T any](n *node[T]) []string {
	var route []string
	for ; n.parent != nil; n = n.parent {
		route = append(route, n.name)
	}
	slices.Reverse(route)
	return route
}

func (t *Tree[T]) collect(n *node[T], route []string, out *[]Entry[T]) {
	if n.leaf {
		*out = append(*out, Entry[T]{
			Path:  strings.Join(route, string(t.sep)),
			Value: n.value,
		})
	}
	for _, c := range n.children {
		t.collect(c, append(slices.Clip(route), c.name), out)
	}
}

// Walk calls fn for every leaf under prefix in order. The tree is not
// locked while fn runs, so fn may modify the tree. Returning ErrStop ends
// the walk without error.
func (t *Tree[T]) Walk(prefix string, fn func(path string, value T) error) error {
	for _, e := range t.Entries(prefix) {
		if err := fn(e.Path, e.Value); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Paths returns all leaf paths in order
func (t *Tree[T]) Paths() []string {
	entries := t.Entries("")
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}
	return paths
}
