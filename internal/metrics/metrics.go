package metrics

import "sync/atomic"

var (
	jobsSucceeded  int64
	jobsFailed     int64
	scanTicks      int64
	scanErrors     int64
	eventsInserted int64
	eventsSkipped  int64
	syncBatches    int64
	syncRecords    int64
	syncFailures   int64
	replies        int64
)

func IncSucceeded()       { atomic.AddInt64(&jobsSucceeded, 1) }
func IncFailed()          { atomic.AddInt64(&jobsFailed, 1) }
func IncScanTicks()       { atomic.AddInt64(&scanTicks, 1) }
func IncScanErrors()      { atomic.AddInt64(&scanErrors, 1) }
func IncInserted()        { atomic.AddInt64(&eventsInserted, 1) }
func IncSkipped()         { atomic.AddInt64(&eventsSkipped, 1) }
func IncSyncFailures()    { atomic.AddInt64(&syncFailures, 1) }
func IncReplies()         { atomic.AddInt64(&replies, 1) }
func AddSyncedBatch(n int) {
	atomic.AddInt64(&syncBatches, 1)
	atomic.AddInt64(&syncRecords, int64(n))
}

func Snapshot() map[string]int64 {
	return map[string]int64{
		"jobs_succeeded":  atomic.LoadInt64(&jobsSucceeded),
		"jobs_failed":     atomic.LoadInt64(&jobsFailed),
		"scan_ticks":      atomic.LoadInt64(&scanTicks),
		"scan_errors":     atomic.LoadInt64(&scanErrors),
		"events_inserted": atomic.LoadInt64(&eventsInserted),
		"events_skipped":  atomic.LoadInt64(&eventsSkipped),
		"sync_batches":    atomic.LoadInt64(&syncBatches),
		"sync_records":    atomic.LoadInt64(&syncRecords),
		"sync_failures":   atomic.LoadInt64(&syncFailures),
		"replies":         atomic.LoadInt64(&replies),
	}
}
