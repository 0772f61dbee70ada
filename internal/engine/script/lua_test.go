package script_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/tartan/internal/engine/script"
	"github.com/kode4food/tartan/pkg/api"
)

func TestLuaCompile(t *testing.T) {
	env := script.NewLuaEnv()

	comp, err := env.Compile("return a + b", []string{"b", "a"})
	assert.NoError(t, err)
	assert.NotNil(t, comp)

	again, err := env.Compile("return a + b", []string{"a", "b"})
	assert.NoError(t, err)
	assert.Same(t, comp, again)
}

func TestLuaCompileErrors(t *testing.T) {
	env := script.NewLuaEnv()

	_, err := env.Compile("   ", nil)
	assert.ErrorIs(t, err, script.ErrLuaEmptyBody)

	_, err = env.Compile("return x", []string{"not-valid"})
	assert.ErrorIs(t, err, script.ErrLuaBadArgName)

	err = env.Validate("return {", "x")
	assert.ErrorIs(t, err, script.ErrLuaLoad)
}

func TestLuaExecute(t *testing.T) {
	env := script.NewLuaEnv()

	tests := []struct {
		name     string
		script   string
		args     api.Args
		expected any
	}{
		{
			name:     "arithmetic",
			script:   "return a + b",
			args:     api.Args{"a": 5, "b": 10},
			expected: 15,
		},
		{
			name:     "float",
			script:   "return x / 2",
			args:     api.Args{"x": 5},
			expected: 2.5,
		},
		{
			name:     "string",
			script:   "return greeting .. ', ' .. name",
			args:     api.Args{"greeting": "hello", "name": "world"},
			expected: "hello, world",
		},
		{
			name:     "boolean",
			script:   "return n > 10",
			args:     api.Args{"n": 15},
			expected: true,
		},
		{
			name:     "missing_arg_is_nil",
			script:   "return missing == nil",
			args:     api.Args{},
			expected: true,
		},
		{
			name:     "nil_result",
			script:   "return nil",
			args:     api.Args{},
			expected: nil,
		},
		{
			name:     "array_result",
			script:   "return {1, 2, 3}",
			args:     api.Args{},
			expected: []any{1, 2, 3},
		},
		{
			name:   "map_result",
			script: "return {total = a * 2, label = 'x'}",
			args:   api.Args{"a": 4},
			expected: map[string]any{
				"total": 8,
				"label": "x",
			},
		},
		{
			name:     "table_arg",
			script:   "return order.items[2]",
			args:     api.Args{"order": map[string]any{"items": []any{"a", "b"}}},
			expected: "b",
		},
		{
			name:     "value_arg",
			script:   "return user.name",
			args:     api.Args{"user": api.MustValue(map[string]any{"name": "ada"})},
			expected: "ada",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := env.Execute(tt.script, tt.args)
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, res)
		})
	}
}

func TestLuaMixedTable(t *testing.T) {
	env := script.NewLuaEnv()

	res, err := env.Execute("return {1, 2, name = 'mixed'}", api.Args{})
	assert.NoError(t, err)

	m, ok := res.(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, "mixed", m["name"])
	assert.Equal(t, 1, m["1"])
	assert.Equal(t, 2, m["2"])
}

func TestLuaRuntimeError(t *testing.T) {
	env := script.NewLuaEnv()

	_, err := env.Execute("error('boom')", api.Args{})
	assert.ErrorIs(t, err, script.ErrLuaExecution)
	assert.Contains(t, err.Error(), "boom")
}

func TestLuaSandbox(t *testing.T) {
	env := script.NewLuaEnv()

	for _, name := range []string{"io", "os", "debug", "require", "load"} {
		t.Run(name, func(t *testing.T) {
			res, err := env.Execute("return "+name+" == nil", api.Args{})
			assert.NoError(t, err)
			assert.Equal(t, true, res)
		})
	}

	_, err := env.Execute("return os.time()", api.Args{})
	assert.ErrorIs(t, err, script.ErrLuaExecution)
}

func TestLuaConcurrentExecute(t *testing.T) {
	env := script.NewLuaEnv()

	var wg sync.WaitGroup
	for i := range 25 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			res, err := env.Execute("return n * n", api.Args{"n": n})
			assert.NoError(t, err)
			assert.Equal(t, n*n, res)
		}(i)
	}
	wg.Wait()
}
