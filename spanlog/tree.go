package spanlog

import (
	"sync"
)

// Tree ingests events from the analysis goroutine while snapshots of earlier
// states are read elsewhere. A snapshot is a deep copy taken under the tree's
// lock; published snapshots are never written to again.
type Tree struct {
	mu       sync.Mutex
	root     *Node
	detached bool
	dropped  int
}

func NewTree() *Tree {
	return &Tree{root: &Node{}}
}

// Ingest files ev under the node named by ev.Path, creating intermediate
// spans as needed. O(len(ev.Path)) per event. Events arriving after Detach
// are dropped.
func (t *Tree) Ingest(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.detached {
		t.dropped++
		return
	}
	n := t.root
	for _, label := range ev.Path {
		if label == "" {
			continue
		}
		n = n.child(label)
	}
	n.append(ev)
}

// Snapshot returns an immutable copy of the current tree state.
func (t *Tree) Snapshot() *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root.clone()
}

// Detach stops the tree from accepting further events and returns the final
// root. The returned node is safe to share without copying, since no writer
// can reach it anymore.
func (t *Tree) Detach() *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.detached = true
	return t.root
}

// Dropped reports how many events arrived after Detach.
func (t *Tree) Dropped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}
