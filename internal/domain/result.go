package domain

import "fmt"

// Result is the outcome of one idea store call: either Ok with data or Err
// with the store's message. Every store client normalizes its responses into
// a Result at the boundary, so callers never inspect transport envelopes.
type Result[T any] struct {
	data  T
	msg   string
	cause error
	ok    bool
}

// Ok wraps a successful response.
func Ok[T any](data T) Result[T] {
	return Result[T]{data: data, ok: true}
}

// Fail wraps a rejected or failed response.
func Fail[T any](msg string) Result[T] {
	if msg == "" {
		msg = "unknown error"
	}
	return Result[T]{msg: msg}
}

// FailErr wraps a failure whose kind callers can match with errors.Is, such
// as ErrNotFound for a missing idea.
func FailErr[T any](err error) Result[T] {
	if err == nil {
		return Fail[T]("")
	}
	return Result[T]{msg: err.Error(), cause: err}
}

// IsOk reports whether the call succeeded.
func (r Result[T]) IsOk() bool { return r.ok }

// Message returns the failure message, or "" for Ok.
func (r Result[T]) Message() string { return r.msg }

// Err returns the failure cause, or nil when the failure has no kind.
func (r Result[T]) Err() error { return r.cause }

// Unwrap returns the data, or an error wrapping ErrStoreRejected and the
// failure cause when there is one.
func (r Result[T]) Unwrap() (T, error) {
	if !r.ok {
		var zero T
		if r.cause != nil {
			return zero, fmt.Errorf("%w: %w", ErrStoreRejected, r.cause)
		}
		return zero, fmt.Errorf("%w: %s", ErrStoreRejected, r.msg)
	}
	return r.data, nil
}
