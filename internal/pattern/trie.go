// File: internal/pattern/trie.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pattern

// Trie is a counted prefix set. Adding a prefix twice requires removing
// it twice. The empty prefix matches everything.
type Trie struct {
	root trieNode
	size int
}

type trieNode struct {
	count    int
	children map[byte]*trieNode
}

// NewTrie returns an empty trie.
func NewTrie() *Trie { return &Trie{} }

// Add inserts prefix and reports whether it was not present before.
func (t *Trie) Add(prefix []byte) bool {
	n := &t.root
	for _, b := range prefix {
		if n.children == nil {
			n.children = make(map[byte]*trieNode)
		}
		child, ok := n.children[b]
		if !ok {
			child = &trieNode{}
			n.children[b] = child
		}
		n = child
	}
	n.count++
	if n.count == 1 {
		t.size++
		return true
	}
	return false
}

// Remove drops one reference to prefix and reports whether it is gone.
func (t *Trie) Remove(prefix []byte) bool {
	path := make([]*trieNode, 0, len(prefix)+1)
	n := &t.root
	path = append(path, n)
	for _, b := range prefix {
		child, ok := n.children[b]
		if !ok {
			return false
		}
		n = child
		path = append(path, n)
	}
	if n.count == 0 {
		return false
	}
	n.count--
	if n.count > 0 {
		return false
	}
	t.size--
	// Prune empty branches.
	for i := len(prefix) - 1; i >= 0; i-- {
		child := path[i+1]
		if child.count > 0 || len(child.children) > 0 {
			break
		}
		delete(path[i].children, prefix[i])
	}
	return true
}

// Match reports whether any stored prefix is a prefix of data.
func (t *Trie) Match(data []byte) bool {
	n := &t.root
	if n.count > 0 {
		return true
	}
	for _, b := range data {
		child, ok := n.children[b]
		if !ok {
			return false
		}
		if child.count > 0 {
			return true
		}
		n = child
	}
	return false
}

// Len returns the number of distinct prefixes.
func (t *Trie) Len() int { return t.size }

// Prefixes lists every distinct prefix.
func (t *Trie) Prefixes() [][]byte {
	var out [][]byte
	var walk func(n *trieNode, acc []byte)
	walk = func(n *trieNode, acc []byte) {
		if n.count > 0 {
			out = append(out, append([]byte{}, acc...))
		}
		for b, child := range n.children {
			walk(child, append(acc, b))
		}
	}
	walk(&t.root, nil)
	return out
}
