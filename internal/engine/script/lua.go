package script

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Shopify/go-lua"
	"github.com/kode4food/lru"

	"github.com/kode4food/tartan/pkg/api"
)

type (
	// LuaEnv executes sandboxed Lua step bodies. Compiled chunks are cached
	// by source and argument names, and interpreter states are pooled
	LuaEnv struct {
		cache     *lru.Cache[*CompiledLua]
		statePool chan *lua.State
	}

	// CompiledLua is a Lua chunk dumped to bytecode along with the argument
	// names it binds as locals
	CompiledLua struct {
		bytecode []byte
		argNames []string
	}
)

const (
	luaCacheSize        = 4096
	luaStatePoolSize    = 10
	luaGlobalTableIndex = -2
	luaArrayTableIndex  = -3
	luaMapTableIndex    = -3
	luaArgLocalTemplate = "local %s = select(%d, ...)"
	luaGlobalTableName  = "_G"
	luaSeparator        = "\n"
)

var (
	ErrLuaLoad       = errors.New("lua load error")
	ErrLuaExecution  = errors.New("lua execution error")
	ErrLuaEmptyBody  = errors.New("lua script is empty")
	ErrLuaBadArgName = errors.New("invalid lua argument name")
)

var luaExclude = [...]string{
	"io", "os", "debug", "package", "require", "dofile", "loadfile", "load",
}

// NewLuaEnv creates a Lua execution environment
func NewLuaEnv() *LuaEnv {
	return &LuaEnv{
		cache:     lru.NewCache[*CompiledLua](luaCacheSize),
		statePool: make(chan *lua.State, luaStatePoolSize),
	}
}

// Validate reports whether the script compiles with the given arguments
func (e *LuaEnv) Validate(src string, argNames ...string) error {
	_, err := e.Compile(src, argNames)
	return err
}

// Compile returns the compiled form of a script whose arguments are bound
// to the named locals. Results are cached
func (e *LuaEnv) Compile(src string, argNames []string) (*CompiledLua, error) {
	if strings.TrimSpace(src) == "" {
		return nil, ErrLuaEmptyBody
	}
	names := slices.Clone(argNames)
	slices.Sort(names)
	for _, name := range names {
		if !isLuaIdent(name) {
			return nil, fmt.Errorf("%w: %q", ErrLuaBadArgName, name)
		}
	}
	return e.cache.Get(hashScript(src, names), func() (*CompiledLua, error) {
		return e.compile(wrapSource(src, names), names)
	})
}

// Execute compiles and runs a script with the provided arguments, returning
// its first result converted to Go values
func (e *LuaEnv) Execute(src string, args api.Args) (any, error) {
	proc, err := e.Compile(src, ArgNames(args))
	if err != nil {
		return nil, err
	}
	return e.Run(proc, args)
}

// Run executes a compiled script with the provided arguments
func (e *LuaEnv) Run(proc *CompiledLua, args api.Args) (any, error) {
	L := e.getState()
	defer e.returnState(L)

	setupSandbox(L)
	err := L.Load(bytes.NewReader(proc.bytecode), "chunk", "b")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}

	for _, name := range proc.argNames {
		pushLuaArg(L, args, name)
	}

	if err := L.ProtectedCall(len(proc.argNames), 1, 0); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaExecution, err)
	}

	res := luaToGo(L, -1)
	L.Pop(1)
	return res, nil
}

func (e *LuaEnv) compile(src string, argNames []string) (*CompiledLua, error) {
	L := lua.NewState()
	setupSandbox(L)

	if err := lua.LoadString(L, src); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}

	var buf bytes.Buffer
	if err := L.Dump(&buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}

	return &CompiledLua{
		bytecode: buf.Bytes(),
		argNames: argNames,
	}, nil
}

func (e *LuaEnv) getState() *lua.State {
	select {
	case L := <-e.statePool:
		return L
	default:
		return lua.NewState()
	}
}

func (e *LuaEnv) returnState(L *lua.State) {
	L.SetTop(0)

	select {
	case e.statePool <- L:
	default:
	}
}

func wrapSource(script string, argNames []string) string {
	argLocals := make([]string, len(argNames))
	for i, name := range argNames {
		argLocals[i] = fmt.Sprintf(luaArgLocalTemplate, name, i+1)
	}
	return strings.Join([]string{
		strings.Join(argLocals, luaSeparator), script,
	}, luaSeparator)
}

func setupSandbox(L *lua.State) {
	lua.OpenLibraries(L)
	L.Global(luaGlobalTableName)
	for _, name := range luaExclude {
		L.PushNil()
		L.SetField(luaGlobalTableIndex, name)
	}
	L.Pop(1)
}

func isLuaIdent(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func pushLuaArg(L *lua.State, args api.Args, name string) {
	if value, ok := args[name]; ok {
		goToLua(L, value)
		return
	}
	L.PushNil()
}

func goToLua(L *lua.State, value any) {
	switch v := value.(type) {
	case string:
		L.PushString(v)
	case bool:
		L.PushBoolean(v)
	case int:
		L.PushInteger(v)
	case int64:
		L.PushInteger(int(v))
	case float64:
		L.PushNumber(v)
	case []any:
		pushLuaArray(L, v)
	case map[string]any:
		pushLuaMap(L, v)
	case api.Value:
		goToLua(L, v.Any())
	case nil:
		L.PushNil()
	default:
		goToLua(L, api.MustValue(v).Any())
	}
}

func pushLuaArray(L *lua.State, arr []any) {
	L.CreateTable(len(arr), 0)
	for i, item := range arr {
		L.PushInteger(i + 1)
		goToLua(L, item)
		L.SetTable(luaArrayTableIndex)
	}
}

func pushLuaMap(L *lua.State, m map[string]any) {
	L.CreateTable(0, len(m))
	for k, val := range m {
		L.PushString(k)
		goToLua(L, val)
		L.SetTable(luaMapTableIndex)
	}
}

func luaNumberToGo(L *lua.State, index int) any {
	num, _ := L.ToNumber(index)
	if num == float64(int(num)) {
		return int(num)
	}
	return num
}

func luaToGo(L *lua.State, index int) any {
	switch L.TypeOf(index) {
	case lua.TypeBoolean:
		return L.ToBoolean(index)
	case lua.TypeNumber:
		return luaNumberToGo(L, index)
	case lua.TypeString:
		s, _ := L.ToString(index)
		return s
	case lua.TypeTable:
		return luaTableToAny(L, index)
	default:
		return nil
	}
}

func luaTableToAny(L *lua.State, index int) any {
	abs := L.AbsIndex(index)
	isArray := true
	length := 0

	L.PushNil()
	for L.Next(abs) {
		if !L.IsNumber(-2) {
			isArray = false
			L.Pop(2)
			break
		}
		length++
		L.Pop(1)
	}

	if isArray && length > 0 {
		return convertLuaArray(L, abs, length)
	}

	res := map[string]any{}
	L.PushNil()
	for L.Next(abs) {
		var key string
		if L.TypeOf(-2) == lua.TypeString {
			key, _ = L.ToString(-2)
		} else {
			key = fmt.Sprintf("%v", luaToGo(L, -2))
		}
		res[key] = luaToGo(L, -1)
		L.Pop(1)
	}
	return res
}

func convertLuaArray(L *lua.State, abs, length int) []any {
	arr := make([]any, length)
	for i := 1; i <= length; i++ {
		L.RawGetInt(abs, i)
		arr[i-1] = luaToGo(L, -1)
		L.Pop(1)
	}
	return arr
}
