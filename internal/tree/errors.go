package tree

import (
	"errors"
	"fmt"
)

var (
	// ErrShape reports a JSON value of the wrong kind for its position.
	ErrShape = errors.New("unexpected value shape")

	// ErrMisaligned reports statics and dynamics that do not interleave.
	ErrMisaligned = errors.New("statics and dynamics are misaligned")

	// ErrMissingStatics reports a fragment rendered without statics.
	ErrMissingStatics = errors.New("fragment has no statics")

	// ErrMissingComponent reports a reference to a component id that is not
	// in the table.
	ErrMissingComponent = errors.New("component not found")

	// ErrComponentCycle reports component references that loop back on
	// themselves.
	ErrComponentCycle = errors.New("component reference cycle")
)

// DecodeError is returned when a payload cannot be decoded or merged. The
// session holding the tree should be considered corrupted.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("decode payload: %v", e.Err)
	}
	return fmt.Sprintf("decode payload at %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// RenderError is returned when a merged tree cannot be turned into markup.
type RenderError struct {
	Path string
	Err  error
}

func (e *RenderError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("render: %v", e.Err)
	}
	return fmt.Sprintf("render at %s: %v", e.Path, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

func shapeError(path, format string, args ...any) error {
	return &DecodeError{Path: path, Err: fmt.Errorf("%w: %s", ErrShape, fmt.Sprintf(format, args...))}
}

func misaligned(path, format string, args ...any) error {
	return &DecodeError{Path: path, Err: fmt.Errorf("%w: %s", ErrMisaligned, fmt.Sprintf(format, args...))}
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}
