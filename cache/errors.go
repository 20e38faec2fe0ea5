package cache

import "fmt"

// TypeMismatchError is returned when a cached value cannot be converted to the
// requested type, which means two callers used one key for different types.
type TypeMismatchError struct {
	Key string
	Got any
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("cache: value for key %q has unexpected type %T", e.Key, e.Got)
}
