package engine

import "os"

type (
	// EnvResolver reads configuration values exposed to flow bodies
	EnvResolver interface {
		Lookup(key string) (string, bool)
	}

	// OSEnv resolves keys from the process environment. When Prefix is set,
	// only prefixed variables are visible, and keys are given without it
	OSEnv struct {
		Prefix string
	}

	// MapEnv resolves keys from a fixed map
	MapEnv map[string]string
)

var (
	_ EnvResolver = OSEnv{}
	_ EnvResolver = MapEnv{}
)

// Lookup returns the value of Prefix+key from the process environment
func (e OSEnv) Lookup(key string) (string, bool) {
	return os.LookupEnv(e.Prefix + key)
}

// Lookup returns the mapped value of key
func (e MapEnv) Lookup(key string) (string, bool) {
	v, ok := e[key]
	return v, ok
}
