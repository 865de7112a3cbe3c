package rpc

import (
	"strconv"

	"github.com/jpillora/sizestr"
)

// Stats aggregates byte counters across a Runtime's currently pooled
// idle connections. Not named by the original spec; it supplements
// §4.3's Connection lifecycle with the observability the teacher
// exposes via its socket wrappers' NumBytesRead/NumBytesWritten.
type Stats struct {
	IdleConnections int
	BytesRead       int64
	BytesWritten    int64
}

// String renders byte counts in human-readable form, the same way the
// teacher formats transfer totals in share/ssh.go.
func (s Stats) String() string {
	return "idle=" + strconv.Itoa(s.IdleConnections) +
		" read=" + sizestr.ToString(s.BytesRead) +
		" written=" + sizestr.ToString(s.BytesWritten)
}

func aggregateStats(pool *ConnectionPool) Stats {
	var s Stats
	pool.mu.Lock()
	for _, stack := range pool.stack {
		for _, conn := range stack {
			s.IdleConnections++
			s.BytesRead += conn.NumBytesRead()
			s.BytesWritten += conn.NumBytesWritten()
		}
	}
	pool.mu.Unlock()
	return s
}
