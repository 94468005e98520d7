package scanner

import "time"

// Recorder receives scan measurements. *metrics.PrometheusMetrics
// implements it.
type Recorder interface {
	RecordRangeScanned()
	RecordLogsFetched(eventName string, count int)
	RecordFetchRetry(eventName string)
	RecordRateLimitWait(wait time.Duration)
	RecordScan(outcome string, duration time.Duration)
	UpdateLatestChainBlock(block uint64)
	UpdateLastScannedBlock(block uint64)
}

type nopRecorder struct{}

func (nopRecorder) RecordRangeScanned() {}
func (nopRecorder) RecordLogsFetched(string, int) {}
func (nopRecorder) RecordFetchRetry(string) {}
func (nopRecorder) RecordRateLimitWait(time.Duration) {}
func (nopRecorder) RecordScan(string, time.Duration) {}
func (nopRecorder) UpdateLatestChainBlock(uint64) {}
func (nopRecorder) UpdateLastScannedBlock(uint64) {}
