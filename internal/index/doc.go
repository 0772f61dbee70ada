// Package index keeps the Redis set of runs that have not yet finished
package index
