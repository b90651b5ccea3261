// internal/bank/errors.go
package bank

import (
	"errors"
	"fmt"
)

type AlreadyExistsError struct {
	Path string
}

func (e AlreadyExistsError) Error() string {
	return fmt.Sprintf("already exists with a different source: %s", e.Path)
}

func ErrAlreadyExists(path string) error {
	return AlreadyExistsError{Path: path}
}

type NotFoundError struct {
	Path string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Path)
}

func ErrNotFound(path string) error {
	return NotFoundError{Path: path}
}

// LoadError is returned when building or restoring an item fails
type LoadError struct {
	Path string
	Err  error
}

func (e LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e LoadError) Unwrap() error {
	return e.Err
}

func ErrLoad(path string, err error) error {
	return LoadError{Path: path, Err: err}
}

// SerializationUnsupportedError means an item has no serializable view.
// Unloads turn it into a fall through to Cold.
type SerializationUnsupportedError struct {
	Path string
}

func (e SerializationUnsupportedError) Error() string {
	return fmt.Sprintf("serialization unsupported: %s", e.Path)
}

func ErrSerializationUnsupported(path string) error {
	return SerializationUnsupportedError{Path: path}
}

// Common errors
var (
	ErrClosed          = errors.New("bank is closed")
	ErrNoData          = errors.New("builder returned no data")
	ErrFixedHotStorage = errors.New("hot storage location is fixed by a custom store")
)

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// IsAlreadyExists reports whether err is an AlreadyExistsError
func IsAlreadyExists(err error) bool {
	var ae AlreadyExistsError
	return errors.As(err, &ae)
}
