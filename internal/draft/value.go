package draft

// Value returns the value at path converted to T.
// Numeric values are converted between int, int64 and float64 so trees
// decoded from JSON, TOML or Lua read the same way. The zero T is
// returned when the path is missing or holds another type.
func Value[T any](d *Draft, path string) T {
	v, _ := Get[T](d.Root(), path)
	return v
}

// Get is like Value but reads from a plain tree and reports success.
func Get[T any](tree any, path string) (T, bool) {
	var zero T
	raw, ok := Lookup(tree, path)
	if !ok {
		return zero, false
	}
	if v, ok := raw.(T); ok {
		return v, true
	}
	if v, ok := convertNumber(raw, zero); ok {
		return v.(T), true
	}
	return zero, false
}

// Int is shorthand for Value[int].
func Int(d *Draft, path string) int {
	return Value[int](d, path)
}

// convertNumber converts raw to the numeric kind of want.
func convertNumber(raw any, want any) (any, bool) {
	var f float64
	switch n := raw.(type) {
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint64:
		f = float64(n)
	case float32:
		f = float64(n)
	case float64:
		f = n
	default:
		return nil, false
	}

	switch want.(type) {
	case int:
		return int(f), true
	case int64:
		return int64(f), true
	case float64:
		return f, true
	default:
		return nil, false
	}
}

// Produce runs recipe against a draft of base and returns the result.
// On error the base is returned unchanged together with the error.
func Produce(base any, recipe func(d *Draft) error) (any, error) {
	d := New(base)
	if err := recipe(d); err != nil {
		return base, err
	}
	return d.Finish(), nil
}
