package heap

import "github.com/cockroachdb/errors"

// throw reports a broken allocator invariant and never returns.
//
// Allocator corruption is not recoverable: callers must not try to
// recover the panic value and carry on.
func throw(format string, args ...interface{}) {
	panic(errors.AssertionFailedf(format, args...))
}

// ErrOutOfMemory is returned by the Must* allocation helpers once the
// whole escalation ladder failed to satisfy a request.
var ErrOutOfMemory = errors.New("heap: out of memory")
