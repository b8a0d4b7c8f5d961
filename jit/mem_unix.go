//go:build unix

package jit

import (
	"golang.org/x/sys/unix"
)

func pageSize() int {
	return unix.Getpagesize()
}

// reserveRegion maps address space with no access; pages become usable
// through protectRange.
func reserveRegion(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

// protectRange makes a committed range read/write, plus execute for code.
func protectRange(b []byte, exec bool) error {
	prot := unix.PROT_READ | unix.PROT_WRITE
	if exec {
		prot |= unix.PROT_EXEC
	}
	return unix.Mprotect(b, prot)
}

// mapWritable maps a private read/write buffer.
func mapWritable(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

// sealExecutable drops write permission and adds execute.
func sealExecutable(b []byte) error {
	return unix.Mprotect(b, unix.PROT_READ|unix.PROT_EXEC)
}

func unmap(b []byte) error {
	return unix.Munmap(b)
}
