package script

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"slices"

	"github.com/kode4food/tartan/pkg/api"
)

type (
	// Registry dispatches script bodies to the environment for their
	// language
	Registry struct {
		envs map[string]Environment
	}

	// Environment compiles and runs script bodies for one language
	Environment interface {
		// Validate reports whether the script compiles with the given
		// argument names
		Validate(src string, argNames ...string) error

		// Execute runs the script with the given arguments and returns its
		// result converted to Go values
		Execute(src string, args api.Args) (any, error)
	}
)

var ErrUnsupportedLanguage = api.ErrInvalidScriptLanguage

// NewRegistry creates a registry with Ale and Lua environments
func NewRegistry() *Registry {
	return &Registry{
		envs: map[string]Environment{
			api.ScriptLangAle: NewAleEnv(),
			api.ScriptLangLua: NewLuaEnv(),
		},
	}
}

// Get returns the environment for the given language. An empty language
// selects Lua
func (r *Registry) Get(language string) (Environment, error) {
	if language == "" {
		language = api.ScriptLangLua
	}
	env, ok := r.envs[language]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	return env, nil
}

// Validate checks that the script compiles in its language with the given
// argument names
func (r *Registry) Validate(cfg api.ScriptConfig, argNames ...string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	env, err := r.Get(cfg.Language)
	if err != nil {
		return err
	}
	return env.Validate(cfg.Script, argNames...)
}

// Execute runs the script in its language with the given arguments
func (r *Registry) Execute(cfg api.ScriptConfig, args api.Args) (any, error) {
	env, err := r.Get(cfg.Language)
	if err != nil {
		return nil, err
	}
	return env.Execute(cfg.Script, args)
}

// ArgNames returns the argument names in the order environments bind them
func ArgNames(args api.Args) []string {
	return slices.Sorted(maps.Keys(args))
}

func hashScript(src string, argNames []string) string {
	h := sha256.New()
	_, _ = h.Write([]byte(src))
	for _, arg := range argNames {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(arg))
	}
	return hex.EncodeToString(h.Sum(nil))
}
