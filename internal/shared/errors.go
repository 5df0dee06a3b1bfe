package shared

import "errors"

// ErrNotFound indicates a stored record does not exist.
var ErrNotFound = errors.New("not found")
