package jiterrors

import (
	"errors"
	"strings"
)

// Executable region (R) Errors
var (
	ErrAllocationExhausted  = errors.New("R1|AllocationExhausted: The executable region has no room left for the requested range.")
	ErrRegionFinalized      = errors.New("R2|RegionFinalized: Allocation requested after the region was released.")
	ErrRegionNotInitialized = errors.New("R3|RegionNotInitialized: Allocation requested before the region was initialized.")
	ErrRegionTooLarge       = errors.New("R4|RegionTooLarge: Region size exceeds the relative addressing window.")
)

// Builder (B) Errors
var (
	ErrAssembly         = errors.New("B1|Assembly: The emitter reported an invalid or incomplete instruction stream.")
	ErrCapacityExceeded = errors.New("B2|CapacityExceeded: Emitted code does not fit the inline buffer.")
	ErrUnsupported      = errors.New("B3|Unsupported: Native execution is not available on this platform.")
)

// Module compiler (M) Errors
var (
	ErrSymbolNotFound       = errors.New("M1|SymbolNotFound: Symbol is unknown or the session is not finalized.")
	ErrCacheInvalid         = errors.New("M2|CacheInvalid: Cached object does not match the selected target.")
	ErrInvalidState         = errors.New("M3|InvalidState: Operation is not valid in the current session state.")
	ErrRelocationOutOfRange = errors.New("M4|RelocationOutOfRange: Relative relocation target is outside the addressing window.")
	ErrDuplicateSymbol      = errors.New("M5|DuplicateSymbol: Two objects define the same symbol.")
	ErrMalformedObject      = errors.New("M6|MalformedObject: Object artifact could not be decoded.")
)

var allErrors = []error{
	ErrAllocationExhausted, ErrRegionFinalized, ErrRegionNotInitialized, ErrRegionTooLarge,
	ErrAssembly, ErrCapacityExceeded, ErrUnsupported,
	ErrSymbolNotFound, ErrCacheInvalid, ErrInvalidState, ErrRelocationOutOfRange,
	ErrDuplicateSymbol, ErrMalformedObject,
}

// Sentinel returns the coded error wrapped somewhere in err, or nil.
func Sentinel(err error) error {
	for _, s := range allErrors {
		if errors.Is(err, s) {
			return s
		}
	}
	return nil
}

// GetErrorName extracts the error name from the error message.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	if s := Sentinel(err); s != nil {
		err = s
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	nameParts := strings.SplitN(parts[1], ":", 2)
	return strings.TrimSpace(nameParts[0])
}

// GetErrorCode extracts the error code from the error message.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if s := Sentinel(err); s != nil {
		err = s
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") {
		return ""
	}
	parts := strings.SplitN(errStr, "|", 2)
	return strings.TrimSpace(parts[0])
}

// GetErrorCodeWithName returns the error code and name in the format "Code_ErrorName".
func GetErrorCodeWithName(err error) string {
	code := GetErrorCode(err)
	name := GetErrorName(err)
	if code == "" || name == "" {
		return ""
	}
	return code + "_" + name
}
