package script

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/kode4food/ale"
	"github.com/kode4food/ale/core/bootstrap"
	"github.com/kode4food/ale/data"
	"github.com/kode4food/ale/env"
	"github.com/kode4food/ale/eval"
	"github.com/kode4food/lru"

	"github.com/kode4food/tartan/pkg/api"
)

type (
	// AleEnv executes Ale step bodies. Each body is compiled into a lambda
	// over its sorted argument names and cached
	AleEnv struct {
		env   *env.Environment
		cache *lru.Cache[*CompiledAle]
	}

	// CompiledAle is an Ale lambda along with the argument names it binds
	CompiledAle struct {
		proc     data.Procedure
		argNames []string
	}
)

const (
	aleCacheSize      = 4096
	aleLambdaTemplate = "(lambda (%s) %s)"
	aleDelimiters     = "()[]{}\"';`,"
)

var (
	ErrAleCompile      = errors.New("ale compile error")
	ErrAleCall         = errors.New("ale execution error")
	ErrAleNotProcedure = errors.New("not a procedure")
	ErrAleEmptyBody    = errors.New("ale script is empty")
	ErrAleBadArgName   = errors.New("invalid ale argument name")
)

// NewAleEnv creates an Ale execution environment with the core library
// bootstrapped
func NewAleEnv() *AleEnv {
	e := env.NewEnvironment()
	bootstrap.Into(e)
	return &AleEnv{
		env:   e,
		cache: lru.NewCache[*CompiledAle](aleCacheSize),
	}
}

// Validate reports whether the script compiles with the given arguments
func (e *AleEnv) Validate(src string, argNames ...string) error {
	_, err := e.Compile(src, argNames)
	return err
}

// Compile returns the script wrapped in a lambda whose parameters are the
// named arguments. Results are cached
func (e *AleEnv) Compile(src string, argNames []string) (*CompiledAle, error) {
	if strings.TrimSpace(src) == "" {
		return nil, ErrAleEmptyBody
	}
	names := slices.Clone(argNames)
	slices.Sort(names)
	for _, name := range names {
		if !isAleIdent(name) {
			return nil, fmt.Errorf("%w: %q", ErrAleBadArgName, name)
		}
	}
	return e.cache.Get(hashScript(src, names), func() (*CompiledAle, error) {
		proc, err := e.compile(src, names)
		if err != nil {
			return nil, err
		}
		return &CompiledAle{proc: proc, argNames: names}, nil
	})
}

// Execute compiles and runs a script with the provided arguments
func (e *AleEnv) Execute(src string, args api.Args) (any, error) {
	comp, err := e.Compile(src, ArgNames(args))
	if err != nil {
		return nil, err
	}
	return e.Run(comp, args)
}

// Run calls a compiled script with the provided arguments, returning its
// result converted to Go values
func (e *AleEnv) Run(comp *CompiledAle, args api.Args) (any, error) {
	vals := make(data.Vector, 0, len(comp.argNames))
	for _, name := range comp.argNames {
		vals = append(vals, aleArg(args, name))
	}
	res, err := catchPanic(ErrAleCall, func() (ale.Value, error) {
		return comp.proc.Call(vals...), nil
	})
	if err != nil {
		return nil, err
	}
	return aleToGo(res), nil
}

func (e *AleEnv) compile(
	src string, argNames []string,
) (data.Procedure, error) {
	lambda := fmt.Sprintf(
		aleLambdaTemplate, strings.Join(argNames, " "), src,
	)
	return catchPanic(ErrAleCompile, func() (data.Procedure, error) {
		ns := e.env.GetAnonymous()
		res, err := eval.String(ns, data.String(lambda))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAleCompile, err)
		}
		proc, ok := res.(data.Procedure)
		if !ok {
			return nil, fmt.Errorf("%w, got: %T", ErrAleNotProcedure, res)
		}
		return proc, nil
	})
}

func isAleIdent(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if unicode.IsSpace(r) || strings.ContainsRune(aleDelimiters, r) {
			return false
		}
		if i == 0 && unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func aleArg(args api.Args, name string) ale.Value {
	value, ok := args[name]
	if !ok {
		return data.Null
	}
	return goToAle(value)
}

func goToAle(value any) ale.Value {
	switch v := value.(type) {
	case string:
		return data.String(v)
	case bool:
		return data.Bool(v)
	case int:
		return data.Integer(v)
	case int64:
		return data.Integer(v)
	case float64:
		return data.Float(v)
	case []any:
		vec := make(data.Vector, len(v))
		for i, item := range v {
			vec[i] = goToAle(item)
		}
		return vec
	case map[string]any:
		return goMapToAle(v)
	case api.Value:
		return goToAle(v.Any())
	case nil:
		return data.Null
	default:
		return goToAle(api.MustValue(v).Any())
	}
}

func goMapToAle(m map[string]any) *data.Object {
	obj := data.NewObject()
	for k, val := range m {
		pair := data.NewCons(data.Keyword(k), goToAle(val))
		obj = obj.Put(pair).(*data.Object)
	}
	return obj
}

func aleToGo(value ale.Value) any {
	switch v := value.(type) {
	case data.Bool:
		return bool(v)
	case data.String:
		return string(v)
	case data.Keyword:
		return string(v)
	case data.Integer:
		return int(v)
	case data.Float:
		return float64(v)
	case data.Vector:
		res := make([]any, len(v))
		for i, item := range v {
			res[i] = aleToGo(item)
		}
		return res
	case *data.List:
		return aleListToGo(v)
	case *data.Object:
		res := map[string]any{}
		for _, pair := range v.Pairs() {
			key := fmt.Sprintf("%v", aleToGo(pair.Car()))
			res[key] = aleToGo(pair.Cdr())
		}
		return res
	default:
		if value == data.Null {
			return nil
		}
		return fmt.Sprintf("%v", v)
	}
}

func aleListToGo(list *data.List) []any {
	res := []any{}
	for l := list; !l.IsEmpty(); {
		head, tail, ok := l.Split()
		if !ok {
			break
		}
		res = append(res, aleToGo(head))
		l = tail.(*data.List)
	}
	return res
}

func catchPanic[T any](baseErr error, fn func() (T, error)) (res T, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if e, ok := r.(error); ok {
			err = fmt.Errorf("%w: %w", baseErr, e)
			return
		}
		err = fmt.Errorf("%w: %v", baseErr, r)
	}()
	return fn()
}
