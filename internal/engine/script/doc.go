// Package script compiles and runs sandboxed Ale and Lua step bodies on
// behalf of the engine
package script
