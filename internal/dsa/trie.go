// Package dsa provides the radix tree used to route resource URLs to the
// servers that host them.
package dsa

import (
	"github.com/armon/go-radix"
)

// Trie wraps go-radix for a compressed prefix tree keyed by server URL.
//
// Time Complexity: O(k) per lookup where k is key length
type Trie[V any] struct {
	tree *radix.Tree
}

// NewTrie creates a new empty radix tree.
func NewTrie[V any]() *Trie[V] {
	return &Trie[V]{tree: radix.New()}
}

// Insert adds or replaces a key.
func (t *Trie[V]) Insert(key string, value V) {
	t.tree.Insert(key, value)
}

// Search looks up a key in the tree.
func (t *Trie[V]) Search(key string) (V, bool) {
	val, found := t.tree.Get(key)
	if !found {
		var zero V
		return zero, false
	}
	v, ok := val.(V)
	return v, ok
}

// Delete removes a key from the tree.
// Returns true if the key was found and deleted.
func (t *Trie[V]) Delete(key string) bool {
	_, deleted := t.tree.Delete(key)
	return deleted
}

// FirstWithPrefix returns the lexically smallest key starting with prefix.
func (t *Trie[V]) FirstWithPrefix(prefix string) (string, V, bool) {
	var (
		key   string
		value V
		found bool
	)
	t.tree.WalkPrefix(prefix, func(k string, v interface{}) bool {
		if val, ok := v.(V); ok {
			key, value, found = k, val, true
			return true // stop after first match
		}
		return false
	})
	return key, value, found
}

// Size returns the number of keys in the tree.
func (t *Trie[V]) Size() int {
	return t.tree.Len()
}

// ForEach calls fn for each key-value pair in key order.
func (t *Trie[V]) ForEach(fn func(key string, value V)) {
	t.tree.Walk(func(k string, v interface{}) bool {
		if val, ok := v.(V); ok {
			fn(k, val)
		}
		return false // continue walking
	})
}
