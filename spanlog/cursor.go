package spanlog

// Entry is one event yielded by a Cursor, together with the span path it is
// filed under.
type Entry struct {
	Path  []string
	Event Event
}

// Cursor is a restartable depth-first pre-order traversal over the events in
// a subtree. Each call to Query yields a fresh traversal; cursors never
// mutate the tree. Sibling order is insertion order, not label order, so the
// traversal reflects the chronological shape of the analysis.
type Cursor struct {
	filter Filter
	stack  []cursorFrame
	path   []string
}

type cursorFrame struct {
	node *Node
	next int
}

// Query returns a cursor over all events at or below n that f matches.
// Paths yielded by the cursor start at n.
func (n *Node) Query(f Filter) *Cursor {
	c := &Cursor{filter: f}
	if n.Label != "" {
		c.path = append(c.path, n.Label)
	}
	c.stack = append(c.stack, cursorFrame{node: n})
	return c
}

// Next returns the next matching event. The returned entry's path is a copy
// and remains valid across further calls.
func (c *Cursor) Next() (Entry, bool) {
	for len(c.stack) > 0 {
		fr := &c.stack[len(c.stack)-1]
		n := fr.node
		if fr.next == len(n.entries) {
			c.stack = c.stack[:len(c.stack)-1]
			if n.Label != "" {
				c.path = c.path[:len(c.path)-1]
			}
			continue
		}
		e := n.entries[fr.next]
		fr.next++
		switch e.kind {
		case entryEvent:
			ev := n.Events[e.idx]
			if c.filter.Match(c.path, ev) {
				return Entry{Path: append([]string(nil), c.path...), Event: ev}, true
			}
		case entryChild:
			child := n.children[e.idx]
			if !c.filter.couldMatch(append(c.path, child.Label)) {
				// No event below child can match, skip the whole subtree.
				continue
			}
			c.path = append(c.path, child.Label)
			c.stack = append(c.stack, cursorFrame{node: child})
		}
	}
	return Entry{}, false
}
