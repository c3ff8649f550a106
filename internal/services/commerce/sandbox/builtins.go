package sandbox

import (
	"strings"

	"github.com/Shopify/go-lua"
)

// maxRangeLength caps the tables built by range().
const maxRangeLength = 1_000_000

// baseGlobals are the functions kept from the Lua base library.
var baseGlobals = map[string]bool{
	"_VERSION": true,
	"assert":   true,
	"error":    true,
	"ipairs":   true,
	"next":     true,
	"pairs":    true,
	"pcall":    true,
	"select":   true,
	"tonumber": true,
	"tostring": true,
	"type":     true,
	"xpcall":   true,
}

// printer collects everything a script prints.
type printer struct {
	buf strings.Builder
}

func (p *printer) print(l *lua.State) int {
	n := l.Top()
	l.Global("tostring")
	for i := 1; i <= n; i++ {
		l.PushValue(-1)
		l.PushValue(i)
		l.Call(1, 1)
		s, ok := l.ToString(-1)
		if !ok {
			lua.Errorf(l, "'tostring' must return a string to 'print'")
			return 0
		}
		if i > 1 {
			p.buf.WriteByte('\t')
		}
		p.buf.WriteString(s)
		l.Pop(1)
	}
	p.buf.WriteByte('\n')
	return 0
}

func (p *printer) String() string {
	return p.buf.String()
}

// builtins are the Go-backed primitives every script can use.
func builtins(out *printer) []lua.RegistryFunction {
	return []lua.RegistryFunction{
		{Name: "print", Function: out.print},
		{Name: "len", Function: luaLen},
		{Name: "min", Function: func(l *lua.State) int { return extreme(l, func(a, b float64) bool { return a < b }) }},
		{Name: "max", Function: func(l *lua.State) int { return extreme(l, func(a, b float64) bool { return a > b }) }},
		{Name: "range", Function: luaRange},
		{Name: "list", Function: luaList},
		{Name: "dict", Function: luaDict},
	}
}

func luaLen(l *lua.State) int {
	switch l.TypeOf(1) {
	case lua.TypeString:
		l.PushInteger(l.RawLength(1))
	case lua.TypeTable:
		count := 0
		l.PushNil()
		for l.Next(1) {
			count++
			l.Pop(1)
		}
		l.PushInteger(count)
	default:
		lua.ArgumentError(l, 1, "string or table expected")
	}
	return 1
}

// extreme implements min and max over varargs or a single sequence table.
func extreme(l *lua.State, better func(a, b float64) bool) int {
	var values []float64
	if l.Top() == 1 && l.TypeOf(1) == lua.TypeTable {
		n := l.RawLength(1)
		for i := 1; i <= n; i++ {
			l.RawGetInt(1, i)
			v, ok := l.ToNumber(-1)
			l.Pop(1)
			if !ok {
				lua.Errorf(l, "sequence element %d is not a number", i)
				return 0
			}
			values = append(values, v)
		}
	} else {
		for i := 1; i <= l.Top(); i++ {
			values = append(values, lua.CheckNumber(l, i))
		}
	}
	if len(values) == 0 {
		lua.Errorf(l, "expected at least one number")
		return 0
	}
	best := values[0]
	for _, v := range values[1:] {
		if better(v, best) {
			best = v
		}
	}
	l.PushNumber(best)
	return 1
}

// luaRange mirrors range(stop) and range(start, stop[, step]) with an
// exclusive stop.
func luaRange(l *lua.State) int {
	start, stop, step := 0, 0, 1
	if l.IsNoneOrNil(2) {
		stop = lua.CheckInteger(l, 1)
	} else {
		start = lua.CheckInteger(l, 1)
		stop = lua.CheckInteger(l, 2)
		step = lua.OptInteger(l, 3, 1)
	}
	if step == 0 {
		lua.ArgumentError(l, 3, "step must not be zero")
		return 0
	}
	count := 0
	if step > 0 && stop > start {
		count = (stop - start + step - 1) / step
	} else if step < 0 && start > stop {
		count = (start - stop - step - 1) / -step
	}
	if count > maxRangeLength {
		lua.Errorf(l, "range of %d elements exceeds the limit of %d", count, maxRangeLength)
		return 0
	}
	l.CreateTable(count, 0)
	for i := 0; i < count; i++ {
		l.PushInteger(start + i*step)
		l.RawSetInt(-2, i+1)
	}
	return 1
}

func luaList(l *lua.State) int {
	if l.IsNoneOrNil(1) {
		l.NewTable()
		return 1
	}
	lua.CheckType(l, 1, lua.TypeTable)
	n := l.RawLength(1)
	l.CreateTable(n, 0)
	for i := 1; i <= n; i++ {
		l.RawGetInt(1, i)
		l.RawSetInt(-2, i)
	}
	return 1
}

func luaDict(l *lua.State) int {
	if l.IsNoneOrNil(1) {
		l.NewTable()
		return 1
	}
	lua.CheckType(l, 1, lua.TypeTable)
	l.NewTable()
	l.PushNil()
	for l.Next(1) {
		l.PushValue(-2)
		l.Insert(-2)
		l.RawSet(-4)
	}
	return 1
}
