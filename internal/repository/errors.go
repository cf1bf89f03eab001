package repository

import "errors"

var (
	// ErrCacheMiss is returned by Cache.Get for absent or expired keys.
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheUnavailable wraps transport errors from a remote cache. The
	// cached repository treats it like a miss and falls back to the database.
	ErrCacheUnavailable = errors.New("cache unavailable")
)
