package storage

import "errors"

// ErrDuplicate is returned when an insert or update hits a unique key.
var ErrDuplicate = errors.New("storage: duplicate key")
