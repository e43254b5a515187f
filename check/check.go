// Package check is the process-wide assertion sink. Downstream code
// reports invariant violations here and never decides process fate itself.
package check

import (
	"fmt"
	"os"
	"sync/atomic"

	log "github.com/inconshreveable/log15"
)

// Process exit codes.
const (
	ExitOK           = 0
	ExitFail         = 1
	ExitAssertFailed = 2
)

// strict decides whether a violated invariant terminates the process.
// Off by default: violations are logged and contained.
var strict int32

// SetStrict switches violated invariants from logged-and-contained to
// fatal (exit code ExitAssertFailed). Called once at startup.
func SetStrict(on bool) {
	var v int32
	if on {
		v = 1
	}
	atomic.StoreInt32(&strict, v)
}

// Assert reports a violated internal invariant. In strict mode the process
// exits with ExitAssertFailed; otherwise the violation is logged and
// execution continues.
func Assert(cond bool, msg string, ctx ...interface{}) {
	if cond {
		return
	}
	log.Crit("assertion failed: "+msg, ctx...)
	if atomic.LoadInt32(&strict) != 0 {
		os.Exit(ExitAssertFailed)
	}
}

// Failf is Assert for unconditionally unreachable paths.
func Failf(format string, args ...interface{}) {
	Assert(false, fmt.Sprintf(format, args...))
}
