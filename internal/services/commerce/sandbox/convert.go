package sandbox

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/Shopify/go-lua"
)

// maxValueDepth bounds nesting when moving values across the Lua boundary.
const maxValueDepth = 64

// luaToGo converts the Lua value at index into plain Go values: sequences
// become []any, other tables map[string]any, integral numbers int.
func luaToGo(l *lua.State, index int) (any, error) {
	return luaValue(l, l.AbsIndex(index), 0)
}

func luaValue(l *lua.State, index, depth int) (any, error) {
	switch l.TypeOf(index) {
	case lua.TypeNil, lua.TypeNone:
		return nil, nil
	case lua.TypeString:
		value, _ := l.ToString(index)
		return value, nil
	case lua.TypeNumber:
		value, _ := l.ToNumber(index)
		return normalizeNumber(value), nil
	case lua.TypeBoolean:
		return l.ToBoolean(index), nil
	case lua.TypeTable:
		if depth >= maxValueDepth {
			return nil, fmt.Errorf("value nested deeper than %d levels", maxValueDepth)
		}
		return luaTable(l, l.AbsIndex(index), depth+1)
	default:
		return nil, fmt.Errorf("cannot convert %s value", lua.TypeNameOf(l, index))
	}
}

func luaTable(l *lua.State, index, depth int) (any, error) {
	isArray := true
	maxIndex := 0
	count := 0
	l.PushNil()
	for l.Next(index) {
		count++
		if isArray {
			if l.TypeOf(-2) != lua.TypeNumber {
				isArray = false
			} else if idx, ok := l.ToInteger(-2); ok && idx > 0 && float64(idx) == toNumber(l, -2) {
				if idx > maxIndex {
					maxIndex = idx
				}
			} else {
				isArray = false
			}
		}
		l.Pop(1)
	}

	if isArray && count > 0 && maxIndex == count {
		result := make([]any, 0, maxIndex)
		for i := 1; i <= maxIndex; i++ {
			l.RawGetInt(index, i)
			value, err := luaValue(l, -1, depth)
			l.Pop(1)
			if err != nil {
				return nil, err
			}
			result = append(result, value)
		}
		return result, nil
	}

	output := make(map[string]any, count)
	l.PushNil()
	for l.Next(index) {
		key, ok := tableKey(l, -2)
		if !ok {
			kind := lua.TypeNameOf(l, -2)
			l.Pop(2)
			return nil, fmt.Errorf("table keys must be strings or numbers, got %s", kind)
		}
		value, err := luaValue(l, -1, depth)
		if err != nil {
			l.Pop(2)
			return nil, err
		}
		output[key] = value
		l.Pop(1)
	}
	return output, nil
}

// tableKey reads a key without converting it in place, which would break
// the traversal.
func tableKey(l *lua.State, index int) (string, bool) {
	switch l.TypeOf(index) {
	case lua.TypeString:
		key, _ := l.ToString(index)
		return key, true
	case lua.TypeNumber:
		return strconv.FormatFloat(toNumber(l, index), 'f', -1, 64), true
	default:
		return "", false
	}
}

func toNumber(l *lua.State, index int) float64 {
	value, _ := l.ToNumber(index)
	return value
}

func normalizeNumber(value float64) any {
	if math.Mod(value, 1) == 0 && math.Abs(value) < 1<<53 {
		return int(value)
	}
	return value
}

// pushGo pushes a Go value onto the Lua stack.
func pushGo(l *lua.State, value any) error {
	return pushValue(l, value, 0)
}

func pushValue(l *lua.State, value any, depth int) error {
	if depth > maxValueDepth {
		return fmt.Errorf("value nested deeper than %d levels", maxValueDepth)
	}
	switch v := value.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(v)
	case string:
		l.PushString(v)
	case float64:
		l.PushNumber(v)
	case float32:
		l.PushNumber(float64(v))
	case int:
		l.PushInteger(v)
	case int64:
		l.PushNumber(float64(v))
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return err
		}
		l.PushNumber(f)
	case []any:
		l.CreateTable(len(v), 0)
		for i, item := range v {
			if err := pushValue(l, item, depth+1); err != nil {
				l.Pop(1)
				return err
			}
			l.RawSetInt(-2, i+1)
		}
	case map[string]any:
		l.CreateTable(0, len(v))
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := pushValue(l, v[k], depth+1); err != nil {
				l.Pop(1)
				return err
			}
			l.SetField(-2, k)
		}
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("convert %T: %w", value, err)
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return fmt.Errorf("convert %T: %w", value, err)
		}
		return pushValue(l, generic, depth)
	}
	return nil
}
