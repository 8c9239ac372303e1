package action

// Matcher selects one or more action types.
type Matcher interface {
	// Types returns every type accepted by the matcher, in declaration order.
	Types() []Type

	// Matches reports whether the matcher accepts t.
	Matches(t Type) bool
}

// Set is a Matcher over a fixed set of types.
type Set struct {
	order []Type
	index map[Type]struct{}
}

// Match returns a Matcher accepting any of the given types.
// Duplicates are ignored; declaration order is kept.
func Match(types ...Type) *Set {
	s := &Set{index: make(map[Type]struct{}, len(types))}
	for _, t := range types {
		if _, dup := s.index[t]; dup {
			continue
		}
		s.index[t] = struct{}{}
		s.order = append(s.order, t)
	}
	return s
}

// Types implements Matcher.
func (s *Set) Types() []Type {
	out := make([]Type, len(s.order))
	copy(out, s.order)
	return out
}

// Matches implements Matcher.
func (s *Set) Matches(t Type) bool {
	_, ok := s.index[t]
	return ok
}

// Len returns the number of distinct types.
func (s *Set) Len() int {
	return len(s.order)
}

// Union returns a matcher accepting the types of every given matcher.
func Union(ms ...Matcher) *Set {
	var all []Type
	for _, m := range ms {
		all = append(all, m.Types()...)
	}
	return Match(all...)
}
