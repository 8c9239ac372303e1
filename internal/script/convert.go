package script

import (
	"reflect"
	"strconv"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/flowstate/internal/draft"
)

// toGo converts a Lua value into plain Go data: nil, bool, int64,
// float64, string, []any or map[string]any. Tables with keys 1..n become
// slices, every other table becomes a map. A table nested inside itself
// converts to nil at the point of recursion.
func toGo(lv lua.LValue) any {
	return toGoVisit(lv, make(map[*lua.LTable]bool))
}

func toGoVisit(lv lua.LValue, visiting map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case nil, *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visiting[v] {
			return nil
		}
		visiting[v] = true
		defer delete(visiting, v)
		return tableToGo(v, visiting)
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

func tableToGo(t *lua.LTable, visiting map[*lua.LTable]bool) any {
	count, maxN := 0, 0
	isArray := true
	t.ForEach(func(k, _ lua.LValue) {
		count++
		if kn, ok := k.(lua.LNumber); ok {
			n := int(kn)
			if float64(n) == float64(kn) && n > 0 {
				if n > maxN {
					maxN = n
				}
				return
			}
		}
		isArray = false
	})

	if isArray && maxN > 0 && count == maxN {
		arr := make([]any, maxN)
		for i := 1; i <= maxN; i++ {
			arr[i-1] = toGoVisit(t.RawGetInt(i), visiting)
		}
		return arr
	}

	m := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = strconv.FormatFloat(float64(kv), 'f', -1, 64)
		default:
			key = k.String()
		}
		m[key] = toGoVisit(v, visiting)
	})
	return m
}

// toLua converts Go data into a fresh Lua value. Tables are always new so
// scripts never edit Go state in place.
func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case []any:
		t := L.CreateTable(len(val), 0)
		for i, e := range val {
			t.RawSetInt(i+1, toLua(L, e))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(val))
		for k, e := range val {
			t.RawSetString(k, toLua(L, e))
		}
		return t
	case lua.LValue:
		return val
	default:
		return reflectToLua(L, v)
	}
}

func reflectToLua(L *lua.LState, v any) lua.LValue {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return lua.LNil
		}
		return toLua(L, rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		t := L.CreateTable(rv.Len(), 0)
		for i := 0; i < rv.Len(); i++ {
			t.RawSetInt(i+1, toLua(L, rv.Index(i).Interface()))
		}
		return t
	case reflect.Map:
		t := L.NewTable()
		iter := rv.MapRange()
		for iter.Next() {
			t.RawSet(toLua(L, iter.Key().Interface()), toLua(L, iter.Value().Interface()))
		}
		return t
	case reflect.Int, reflect.Int8, reflect.Int16:
		return lua.LNumber(rv.Int())
	case reflect.Uint8, reflect.Uint16:
		return lua.LNumber(rv.Uint())
	case reflect.String:
		return lua.LString(rv.String())
	default:
		ud := L.NewUserData()
		ud.Value = v
		return ud
	}
}

// reshare returns next with every subtree that equals its counterpart in
// prev replaced by prev's. When nothing differs prev itself is returned,
// so a handler that changes nothing keeps the state reference stable.
func reshare(prev, next any) any {
	switch n := next.(type) {
	case map[string]any:
		p, ok := prev.(map[string]any)
		if !ok {
			return next
		}
		same := len(p) == len(n)
		for k, nv := range n {
			pv, found := p[k]
			if !found {
				same = false
				continue
			}
			shared := reshare(pv, nv)
			n[k] = shared
			if !draft.Same(pv, shared) {
				same = false
			}
		}
		if same {
			return prev
		}
		return n
	case []any:
		p, ok := prev.([]any)
		if !ok {
			return next
		}
		same := len(p) == len(n)
		for i, nv := range n {
			if i >= len(p) {
				same = false
				break
			}
			shared := reshare(p[i], nv)
			n[i] = shared
			if !draft.Same(p[i], shared) {
				same = false
			}
		}
		if same {
			return prev
		}
		return n
	default:
		if numericEqual(prev, next) {
			return prev
		}
		return next
	}
}

// numericEqual treats Go integers and Lua integral numbers as equal, so a
// state seeded with int values survives a round trip through Lua.
func numericEqual(a, b any) bool {
	if draft.Same(a, b) {
		return true
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	return aok && bok && af == bf
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
