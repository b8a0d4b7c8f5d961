package jit

import "golang.org/x/exp/constraints"

// alignUp rounds v up to a multiple of a, a power of two.
func alignUp[T constraints.Integer](v, a T) T {
	return (v + a - 1) &^ (a - 1)
}

// alignDown rounds v down to a multiple of a, a power of two.
func alignDown[T constraints.Integer](v, a T) T {
	return v &^ (a - 1)
}
