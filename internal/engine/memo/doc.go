// Package memo caches the projected state of finished runs
package memo
