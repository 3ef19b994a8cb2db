package repository

import "errors"

var (
	// ErrInvalidData неверные данные
	ErrInvalidData = errors.New("invalid data")

	// ErrCacheMiss ключа нет в кеше
	ErrCacheMiss = errors.New("cache miss")
)
