// Package spanlog collects structured log events into a tree that mirrors the
// span nesting of the analysis that emitted them. Events carry the path of
// spans that were active at emission time ("unwind_thread 3" → "unwind_frame
// 12" → ...); ingesting an event walks that path from the root, creating nodes
// as needed, and appends the event there. The tree remembers arrival order:
// a node's direct events and its child spans interleave the way they were
// first seen, so a traversal reproduces the chronological shape of the run.
package spanlog

import (
	"time"
)

type Level uint8

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "?????"
	}
}

// Event is one emitted diagnostic record. Path lists the active spans,
// outermost first; an empty path attaches the event directly to the root.
// Events are immutable once created.
type Event struct {
	Level   Level
	Message string
	Time    time.Time
	Path    []string
}

// Sink consumes events. Tree.Ingest satisfies it as a method value.
type Sink func(Event)

type entryKind uint8

const (
	entryEvent entryKind = iota
	entryChild
)

// entry records arrival order within a node. idx points into either the
// node's Events or its children, depending on kind.
type entry struct {
	kind entryKind
	idx  int32
}

// Node is one span in the tree. Children are keyed uniquely by label among
// siblings and kept in insertion order; re-entering the same span path
// appends to the existing node instead of creating a duplicate.
type Node struct {
	Label  string
	Events []Event

	entries  []entry
	children []*Node
	index    map[string]int32
}

// NumChildren returns the number of distinct child spans.
func (n *Node) NumChildren() int {
	return len(n.children)
}

// Child returns the child span with the given label, if any.
func (n *Node) Child(label string) (*Node, bool) {
	if n.index == nil {
		return nil, false
	}
	i, ok := n.index[label]
	if !ok {
		return nil, false
	}
	return n.children[i], true
}

// Children returns the child spans in insertion order. The returned slice
// must not be modified.
func (n *Node) Children() []*Node {
	return n.children
}

func (n *Node) child(label string) *Node {
	if c, ok := n.Child(label); ok {
		return c
	}
	c := &Node{Label: label}
	if n.index == nil {
		n.index = map[string]int32{}
	}
	n.index[label] = int32(len(n.children))
	n.entries = append(n.entries, entry{kind: entryChild, idx: int32(len(n.children))})
	n.children = append(n.children, c)
	return c
}

func (n *Node) append(ev Event) {
	n.entries = append(n.entries, entry{kind: entryEvent, idx: int32(len(n.Events))})
	n.Events = append(n.Events, ev)
}

func (n *Node) clone() *Node {
	out := &Node{
		Label:   n.Label,
		Events:  n.Events[:len(n.Events):len(n.Events)],
		entries: n.entries[:len(n.entries):len(n.entries)],
	}
	if len(n.children) > 0 {
		out.children = make([]*Node, len(n.children))
		out.index = make(map[string]int32, len(n.children))
		for i, c := range n.children {
			out.children[i] = c.clone()
			out.index[c.Label] = int32(i)
		}
	}
	return out
}

// MatchCount reports the number of events at or below n that f matches. It is
// consistent with what a Cursor over n would yield.
func (n *Node) MatchCount(f Filter) int {
	return n.matchCount(f, nil)
}

func (n *Node) matchCount(f Filter, prefix []string) int {
	if n.Label != "" {
		// The root has an empty label and contributes no path element.
		prefix = append(prefix, n.Label)
	}
	total := 0
	for _, ev := range n.Events {
		if f.Match(prefix, ev) {
			total++
		}
	}
	for _, c := range n.children {
		total += c.matchCount(f, prefix)
	}
	return total
}
