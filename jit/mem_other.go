//go:build !unix

package jit

import (
	"fmt"
	"os"
	"runtime"

	"github.com/colorfulnotion/jamjit/jiterrors"
)

func pageSize() int {
	return os.Getpagesize()
}

func errNoMmap() error {
	return fmt.Errorf("executable mappings on %s/%s: %w", runtime.GOOS, runtime.GOARCH, jiterrors.ErrUnsupported)
}

func reserveRegion(size int) ([]byte, error) { return nil, errNoMmap() }

func protectRange(b []byte, exec bool) error { return errNoMmap() }

func mapWritable(size int) ([]byte, error) { return nil, errNoMmap() }

func sealExecutable(b []byte) error { return errNoMmap() }

func unmap(b []byte) error { return nil }
