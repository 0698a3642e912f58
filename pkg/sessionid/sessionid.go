// Package sessionid issues process-lifetime unique session identifiers.
package sessionid

import (
	"fmt"
	"sync/atomic"
	"time"
)

var counter uint64

// New returns "<prefix>_<unixnano>_<seq>" and the sequence number. The
// sequence is shared by every prefix, so ids are never reused within a
// process lifetime even when two sessions start in the same nanosecond.
func New(prefix string, t time.Time) (string, uint64) {
	seq := atomic.AddUint64(&counter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, t.UnixNano(), seq), seq
}
