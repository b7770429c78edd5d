package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Stats holds cumulative traffic and connection counters for one SDK
// instance. The zero value is ready to use.
type Stats struct {
	TotalConns  atomic.Int64
	ClosedConns atomic.Int64
	BytesSent   atomic.Int64
	BytesRecv   atomic.Int64
}

func (s *Stats) AddConn()      { s.TotalConns.Add(1) }
func (s *Stats) RemoveConn()   { s.ClosedConns.Add(1) }
func (s *Stats) AddSent(n int) { s.BytesSent.Add(int64(n)) }
func (s *Stats) AddRecv(n int) { s.BytesRecv.Add(int64(n)) }

// Snapshot is a point-in-time copy of Stats' counters.
type Snapshot struct {
	TotalConns  int64
	ClosedConns int64
	BytesSent   int64
	BytesRecv   int64
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		TotalConns:  s.TotalConns.Load(),
		ClosedConns: s.ClosedConns.Load(),
		BytesSent:   s.BytesSent.Load(),
		BytesRecv:   s.BytesRecv.Load(),
	}
}

// StartReporter launches a goroutine that checks s's throughput and
// connection churn every interval and logs them when a connection opened or
// closed or either rate exceeded 10 B/s, stopping when ctx is cancelled.
func StartReporter(ctx context.Context, s *Stats, logger Logger, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		prev := s.Snapshot()
		seconds := interval.Seconds()
		for {
			select {
			case <-ticker.C:
				cur := s.Snapshot()
				inRate := float64(cur.BytesSent-prev.BytesSent) / seconds
				outRate := float64(cur.BytesRecv-prev.BytesRecv) / seconds
				opened := cur.TotalConns - prev.TotalConns
				closed := cur.ClosedConns - prev.ClosedConns

				if opened > 0 || closed > 0 || inRate > 10 || outRate > 10 {
					logger.Info("%s", formatStats(inRate, outRate, opened, closed))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

func formatBytes(b float64) string {
	unitIdx := 0
	for b > 99 && unitIdx < len(byteUnits)-1 {
		b /= 1024
		unitIdx++
	}
	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

func formatStats(inRate, outRate float64, opened, closed int64) string {
	return fmt.Sprintf("sent: %s/s | recv: %s/s | conn: %2d↑ %2d↓",
		formatBytes(inRate), formatBytes(outRate), opened, closed)
}
