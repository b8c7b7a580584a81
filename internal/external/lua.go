package external

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// luaTimeout bounds a single expression evaluation.
const luaTimeout = 100 * time.Millisecond

// luaTransform evaluates a Lua expression with the raw attribute bound to
// value. Each transform owns its VM; calls are serialised.
type luaTransform struct {
	expr string

	mu sync.Mutex
	L  *lua.LState
	fn *lua.LFunction
}

func newLuaTransform(expr string) (*luaTransform, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})

	// Sandbox: expressions only get math, string and table.
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}

	if err := L.DoString("return function(value) return " + expr + " end"); err != nil {
		L.Close()
		return nil, fmt.Errorf("lua %q: %w", expr, err)
	}
	fn, ok := L.Get(-1).(*lua.LFunction)
	L.Pop(1)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("lua %q: not an expression", expr)
	}
	return &luaTransform{expr: expr, L: L, fn: fn}, nil
}

func (t *luaTransform) Decode(raw any) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), luaTimeout)
	defer cancel()
	t.L.SetContext(ctx)
	defer t.L.RemoveContext()

	arg, err := toLua(raw)
	if err != nil {
		return nil, err
	}
	if err := t.L.CallByParam(lua.P{Fn: t.fn, NRet: 1, Protect: true}, arg); err != nil {
		return nil, err
	}
	ret := t.L.Get(-1)
	t.L.Pop(1)
	return fromLua(ret)
}

func (t *luaTransform) String() string { return "lua(" + t.expr + ")" }

func (t *luaTransform) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.L.Close()
}

func toLua(v any) (lua.LValue, error) {
	switch val := v.(type) {
	case nil:
		return lua.LNil, nil
	case bool:
		return lua.LBool(val), nil
	case string:
		return lua.LString(val), nil
	case int64:
		return lua.LNumber(val), nil
	case uint64:
		return lua.LNumber(val), nil
	case int:
		return lua.LNumber(val), nil
	case float32:
		return lua.LNumber(val), nil
	case float64:
		return lua.LNumber(val), nil
	case []byte:
		return lua.LString(val), nil
	}
	return nil, fmt.Errorf("lua: unsupported value %T", v)
}

// fromLua maps the result back to state values. Integral numbers come back
// as int64 so they match the integer transform.
func fromLua(v lua.LValue) (any, error) {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val), nil
	case lua.LString:
		return string(val), nil
	case lua.LNumber:
		f := float64(val)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
		return f, nil
	}
	if v == lua.LNil {
		return nil, errors.New("expression returned nil")
	}
	return nil, fmt.Errorf("expression returned %s", v.Type())
}
