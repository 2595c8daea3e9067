package report

import (
	"time"

	"github.com/langdon0003/trading-monitor/internal/service/aggregator"
)

// StateSource is the aggregator surface the builder needs: consistent
// snapshots in, report watermarks out.
type StateSource interface {
	Snapshot(ids ...int64) []aggregator.AccountState
	MarkReported(ids []int64, at time.Time)
}
