package share

import (
	"fmt"
	"sync/atomic"
)

// ConnStats tracks both the total and currently-open count of connections
// for an entity (a Dispatcher's pairings, a Client's tunnel pool, ...). It
// backs the counters exposed by the optional status endpoint (§4.9).
type ConnStats struct {
	count int32
	open  int32
}

// New adds one to the total connection count.
func (c *ConnStats) New() int32 {
	return atomic.AddInt32(&c.count, 1)
}

// Open adds one to the current open connection count.
func (c *ConnStats) Open() {
	atomic.AddInt32(&c.open, 1)
}

// Close subtracts one from the current open connection count.
func (c *ConnStats) Close() {
	atomic.AddInt32(&c.open, -1)
}

// Counts returns (currently open, total ever opened).
func (c *ConnStats) Counts() (int32, int32) {
	return atomic.LoadInt32(&c.open), atomic.LoadInt32(&c.count)
}

func (c *ConnStats) String() string {
	open, total := c.Counts()
	return fmt.Sprintf("[%d/%d]", open, total)
}
