package engine

import (
	"encoding/json"
	"reflect"
	"strconv"
	"sync/atomic"
)

// Count is a lock-free int64 counter, safe to read from the metrics
// package while DownloadCore mutates it under its own lock or from a
// concurrent verify/persist goroutine.
type Count struct {
	n int64
}

func (c *Count) Add(n int64)   { atomic.AddInt64(&c.n, n) }
func (c *Count) Int64() int64  { return atomic.LoadInt64(&c.n) }
func (c *Count) String() string { return strconv.FormatInt(c.Int64(), 10) }

func (c *Count) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Int64())
}

// TransferStats accumulates the byte and chunk counters a torrent
// tracks across its lifetime. All fields are Count values, each
// updated atomically, so TransferStats can be read concurrently
// without its own lock;
// see metrics.Collector, which exposes these as Prometheus counters.
type TransferStats struct {
	BytesDownloaded Count
	BytesUploaded   Count
	BytesWasted     Count // blocks received for pieces that failed verification
	ChunksReceived  Count
	ChunksSent      Count
	PiecesVerified  Count
	PiecesFailed    Count
}

// Snapshot returns an independent copy of s's current values, safe to
// hand to a caller that will read it after s keeps mutating.
func (s *TransferStats) Snapshot() TransferStats {
	return copyCountFields(s)
}

func copyCountFields[T any](src *T) (dst T) {
	srcValue := reflect.ValueOf(src).Elem()
	dstValue := reflect.ValueOf(&dst).Elem()
	for i := 0; i < reflect.TypeFor[T]().NumField(); i++ {
		n := srcValue.Field(i).Addr().Interface().(*Count).Int64()
		dstValue.Field(i).Addr().Interface().(*Count).Add(n)
	}
	return
}
