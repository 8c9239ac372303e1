package draft

import "reflect"

// Same reports whether a and b are the same value.
//
// Maps, slices, pointers, channels and funcs compare by reference, so two
// distinct maps with equal contents are not Same. Comparable values compare
// with ==. Same never panics, including on interfaces holding
// uncomparable dynamic values.
func Same(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}

	switch va.Kind() {
	case reflect.Map, reflect.Pointer, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	}

	if !va.Type().Comparable() {
		return reflect.DeepEqual(a, b)
	}
	return safeEqual(a, b)
}

// safeEqual compares with == and treats a runtime comparison panic
// (struct fields holding maps behind interfaces) as "not equal".
func safeEqual(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}
