package repository

import "errors"

var (
	// ErrDuplicate дубликат записи
	ErrDuplicate = errors.New("duplicate record")

	// ErrCacheMiss запись отсутствует в кеше
	ErrCacheMiss = errors.New("cache miss")
)
