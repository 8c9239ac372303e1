// Package draft provides copy-on-write editing of immutable state trees.
//
// State trees are built from map[string]any, []any and scalar values, the
// same shape produced by decoding JSON, TOML or YAML. A Draft wraps a base
// tree and lets callers mutate it in place by path; the first write through
// a node copies that node (and only that node) into the draft. Finish
// returns a new root that shares every untouched subtree with the base, or
// the base itself when nothing was written.
//
//	d := draft.New(state)
//	d.Set("count", draft.Int(d, "count")+1)
//	d.Append("todos", map[string]any{"title": "write docs"})
//	next := d.Finish()
//
// # Paths
//
// Paths are dot-separated. Segments address map keys or, for slices,
// decimal indexes:
//
//	"user.name"      - key name of map user
//	"todos.0.done"   - key done of the first element of slice todos
//	""               - the root
//
// Set creates missing intermediate maps. Every other operation requires
// the path to exist.
//
// # Identity
//
// Same reports reference identity for maps, slices and pointers, the
// property reducers rely on to signal "nothing changed" cheaply.
package draft
