package models

import "time"

// ThreadNode is one message in a conversation tree. Trees are built per request and never stored.
type ThreadNode struct {
	Message  *Message      `json:"message"`
	Children []*ThreadNode `json:"children,omitempty"`
}

// Newest returns the latest date over the node and all its descendants.
func (n *ThreadNode) Newest() time.Time {
	newest := n.Message.Date
	for _, child := range n.Children {
		if d := child.Newest(); d.After(newest) {
			newest = d
		}
	}
	return newest
}

// Walk calls fn for the node and every descendant, depth first.
func (n *ThreadNode) Walk(fn func(*ThreadNode)) {
	fn(n)
	for _, child := range n.Children {
		child.Walk(fn)
	}
}

// Size returns the number of messages in the tree.
func (n *ThreadNode) Size() int {
	count := 0
	n.Walk(func(*ThreadNode) { count++ })
	return count
}

// FlattenForest returns every message in the forest, roots first within each tree.
func FlattenForest(roots []*ThreadNode) []*Message {
	var result []*Message
	for _, root := range roots {
		root.Walk(func(n *ThreadNode) {
			result = append(result, n.Message)
		})
	}
	return result
}
