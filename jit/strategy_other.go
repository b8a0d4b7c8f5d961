//go:build !darwin

package jit

const platformStrategy = StrategyRegion
