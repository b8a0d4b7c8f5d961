package jit

import "golang.org/x/exp/constraints"

// Typed0 views f as func() R.
func Typed0[R constraints.Integer](f *Function) func() R {
	return func() R { return R(f.call(0, 0, 0, 0)) }
}

// Typed1 views f as func(A) R.
func Typed1[A, R constraints.Integer](f *Function) func(A) R {
	return func(a A) R { return R(f.call(uintptr(a), 0, 0, 0)) }
}

// Typed2 views f as func(A, B) R.
func Typed2[A, B, R constraints.Integer](f *Function) func(A, B) R {
	return func(a A, b B) R { return R(f.call(uintptr(a), uintptr(b), 0, 0)) }
}

// Typed3 views f as func(A, B, C) R.
func Typed3[A, B, C, R constraints.Integer](f *Function) func(A, B, C) R {
	return func(a A, b B, c C) R { return R(f.call(uintptr(a), uintptr(b), uintptr(c), 0)) }
}

// Typed4 views f as func(A, B, C, D) R.
func Typed4[A, B, C, D, R constraints.Integer](f *Function) func(A, B, C, D) R {
	return func(a A, b B, c C, d D) R {
		return R(f.call(uintptr(a), uintptr(b), uintptr(c), uintptr(d)))
	}
}
