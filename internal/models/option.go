package models

// Option is an explicit "maybe" value. The zero value is None.
type Option[T comparable] struct {
	value T
	ok    bool
}

// Some wraps v.
func Some[T comparable](v T) Option[T] {
	return Option[T]{value: v, ok: true}
}

// None returns an unset Option.
func None[T comparable]() Option[T] {
	return Option[T]{}
}

// Get returns the value and whether it is set.
func (o Option[T]) Get() (T, bool) {
	return o.value, o.ok
}

// IsSome reports whether the option holds a value.
func (o Option[T]) IsSome() bool {
	return o.ok
}

// OrZero returns the value or T's zero value.
func (o Option[T]) OrZero() T {
	return o.value
}
