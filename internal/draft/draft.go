package draft

import (
	"reflect"
	"strconv"
	"strings"
	"unsafe"
)

// Separator separates path segments.
const Separator = "."

// Draft is a mutable view over an immutable base tree.
// A Draft is not safe for concurrent use.
type Draft struct {
	base     any
	root     any
	owned    map[unsafe.Pointer]struct{}
	modified bool
	finished bool
}

// New creates a draft over base. The base tree is never written to.
func New(base any) *Draft {
	return &Draft{
		base:  base,
		root:  base,
		owned: make(map[unsafe.Pointer]struct{}),
	}
}

// Base returns the value the draft was created from.
func (d *Draft) Base() any {
	return d.base
}

// Root returns the current root, including uncommitted writes.
// The returned tree is read-only: its maps and slices may be shared with
// the base, so changes must go through Set, Update, Append or Delete.
// It must not be retained past Finish.
func (d *Draft) Root() any {
	return d.root
}

// Modified reports whether any write changed the tree.
func (d *Draft) Modified() bool {
	return d.modified
}

// Finish ends the draft and returns the resulting tree.
// When nothing was written the base value itself is returned.
func (d *Draft) Finish() any {
	d.finished = true
	if !d.modified {
		return d.base
	}
	return d.root
}

// Get returns the value at path. Maps and slices are returned as they sit
// in the tree, possibly shared with the base, and must be treated as
// read-only; write through the draft instead.
func (d *Draft) Get(path string) (any, bool) {
	return lookup(d.root, splitPath(path))
}

// Has reports whether path exists.
func (d *Draft) Has(path string) bool {
	_, ok := d.Get(path)
	return ok
}

// Set stores v at path, creating intermediate maps as needed.
// Setting a value that is Same as the current one is a no-op.
func (d *Draft) Set(path string, v any) error {
	segs := splitPath(path)
	return d.modifyAt(path, segs, true, func(cur any, exists bool) (any, bool, error) {
		if exists && Same(cur, v) {
			return cur, false, nil
		}
		return v, true, nil
	})
}

// SetRoot replaces the whole tree.
func (d *Draft) SetRoot(v any) error {
	return d.Set("", v)
}

// Update replaces the value at path with fn(current).
// The current value passed to fn is read-only; fn must return a new value
// rather than mutate it.
func (d *Draft) Update(path string, fn func(cur any) any) error {
	segs := splitPath(path)
	return d.modifyAt(path, segs, false, func(cur any, exists bool) (any, bool, error) {
		if !exists {
			return nil, false, &PathError{Op: "update", Path: path, Err: ErrNotFound}
		}
		next := fn(cur)
		return next, !Same(cur, next), nil
	})
}

// Append appends values to the slice at path.
// A missing path is created as a new slice.
func (d *Draft) Append(path string, values ...any) error {
	segs := splitPath(path)
	return d.modifyAt(path, segs, true, func(cur any, exists bool) (any, bool, error) {
		if len(values) == 0 {
			return cur, false, nil
		}
		if !exists || cur == nil {
			out := make([]any, 0, len(values))
			return append(out, values...), true, nil
		}
		s, ok := cur.([]any)
		if !ok {
			return nil, false, &PathError{Op: "append", Path: path, Err: ErrNotSlice}
		}
		s = d.ownSlice(s)
		s = append(s, values...)
		d.markSlice(s)
		return s, true, nil
	})
}

// Delete removes the map key or slice element at path.
// Deleting a missing map key is a no-op.
func (d *Draft) Delete(path string) error {
	segs := splitPath(path)
	if len(segs) == 0 {
		return &PathError{Op: "delete", Path: path, Err: ErrRootPath}
	}
	last := segs[len(segs)-1]
	parentPath := strings.Join(segs[:len(segs)-1], Separator)
	return d.modifyAt(parentPath, segs[:len(segs)-1], false, func(cur any, exists bool) (any, bool, error) {
		if !exists {
			return nil, false, &PathError{Op: "delete", Path: path, Err: ErrNotFound}
		}
		switch n := cur.(type) {
		case map[string]any:
			if _, ok := n[last]; !ok {
				return cur, false, nil
			}
			n = d.ownMap(n)
			delete(n, last)
			return n, true, nil
		case []any:
			idx, err := index(last, len(n))
			if err != nil {
				return nil, false, &PathError{Op: "delete", Path: path, Err: err}
			}
			out := make([]any, 0, len(n)-1)
			out = append(out, n[:idx]...)
			out = append(out, n[idx+1:]...)
			d.markSlice(out)
			return out, true, nil
		default:
			return nil, false, &PathError{Op: "delete", Path: path, Err: ErrNotContainer}
		}
	})
}

// modifyAt walks to the parent of segs, making every node on the way
// writable, and stores fn's result in place of the current child.
func (d *Draft) modifyAt(path string, segs []string, create bool, fn func(cur any, exists bool) (any, bool, error)) error {
	if d.finished {
		return ErrFinished
	}

	if len(segs) == 0 {
		next, changed, err := fn(d.root, true)
		if err != nil || !changed {
			return err
		}
		d.root = next
		d.modified = true
		return nil
	}

	parent, err := d.writable(path, segs[:len(segs)-1], create)
	if err != nil {
		return err
	}
	last := segs[len(segs)-1]

	switch n := parent.(type) {
	case map[string]any:
		cur, exists := n[last]
		next, changed, err := fn(cur, exists)
		if err != nil || !changed {
			return err
		}
		n[last] = next
	case []any:
		idx, err := index(last, len(n))
		if err != nil {
			return &PathError{Op: "write", Path: path, Err: err}
		}
		next, changed, err := fn(n[idx], true)
		if err != nil || !changed {
			return err
		}
		n[idx] = next
	default:
		return &PathError{Op: "write", Path: path, Err: ErrNotContainer}
	}

	d.modified = true
	return nil
}

// writable returns the node at segs after copying every node on the path
// that is still shared with the base. Copies are re-linked into their
// parents, so the returned node can be mutated in place.
func (d *Draft) writable(path string, segs []string, create bool) (any, error) {
	if d.root == nil {
		if !create {
			return nil, &PathError{Op: "write", Path: path, Err: ErrNotFound}
		}
		m := make(map[string]any)
		d.markMap(m)
		d.root = m
	}

	node, err := d.own(path, d.root)
	if err != nil {
		return nil, err
	}
	d.root = node

	for _, seg := range segs {
		switch n := node.(type) {
		case map[string]any:
			child, ok := n[seg]
			if !ok || child == nil {
				if !create {
					return nil, &PathError{Op: "write", Path: path, Err: ErrNotFound}
				}
				m := make(map[string]any)
				d.markMap(m)
				child = m
			} else if child, err = d.own(path, child); err != nil {
				return nil, err
			}
			n[seg] = child
			node = child
		case []any:
			idx, err := index(seg, len(n))
			if err != nil {
				return nil, &PathError{Op: "write", Path: path, Err: err}
			}
			child, err := d.own(path, n[idx])
			if err != nil {
				return nil, err
			}
			n[idx] = child
			node = child
		default:
			return nil, &PathError{Op: "write", Path: path, Err: ErrNotContainer}
		}
	}
	return node, nil
}

// own returns v itself if the draft already copied it, or a shallow copy.
func (d *Draft) own(path string, v any) (any, error) {
	switch n := v.(type) {
	case map[string]any:
		return d.ownMap(n), nil
	case []any:
		return d.ownSlice(n), nil
	default:
		return nil, &PathError{Op: "write", Path: path, Err: ErrNotContainer}
	}
}

func (d *Draft) ownMap(m map[string]any) map[string]any {
	if m == nil {
		out := make(map[string]any)
		d.markMap(out)
		return out
	}
	if _, ok := d.owned[mapPointer(m)]; ok {
		return m
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	d.markMap(out)
	return out
}

func (d *Draft) ownSlice(s []any) []any {
	if len(s) > 0 {
		if _, ok := d.owned[unsafe.Pointer(unsafe.SliceData(s))]; ok {
			return s
		}
	}
	out := make([]any, len(s))
	copy(out, s)
	d.markSlice(out)
	return out
}

func (d *Draft) markMap(m map[string]any) {
	d.owned[mapPointer(m)] = struct{}{}
}

func (d *Draft) markSlice(s []any) {
	if len(s) > 0 {
		d.owned[unsafe.Pointer(unsafe.SliceData(s))] = struct{}{}
	}
}

// lookup walks segs from root without copying.
func lookup(root any, segs []string) (any, bool) {
	node := root
	for _, seg := range segs {
		switch n := node.(type) {
		case map[string]any:
			child, ok := n[seg]
			if !ok {
				return nil, false
			}
			node = child
		case []any:
			idx, err := index(seg, len(n))
			if err != nil {
				return nil, false
			}
			node = n[idx]
		default:
			return nil, false
		}
	}
	return node, true
}

// Lookup returns the value at path in a tree without creating a draft.
func Lookup(tree any, path string) (any, bool) {
	return lookup(tree, splitPath(path))
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, Separator)
}

func index(seg string, n int) (int, error) {
	idx, err := strconv.Atoi(seg)
	if err != nil {
		return 0, ErrBadIndex
	}
	if idx < 0 || idx >= n {
		return 0, ErrIndexRange
	}
	return idx, nil
}

// mapPointer returns the runtime map address, stable for the life of m.
func mapPointer(m map[string]any) unsafe.Pointer {
	return reflect.ValueOf(m).UnsafePointer()
}
