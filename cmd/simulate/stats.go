package main

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type OperationMetrics struct {
	Total       int64
	Success     int64
	Unavailable int64
	Error       int64
	Latencies   []time.Duration
	mu          sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, unavailable bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case unavailable:
		atomic.AddInt64(&om.Unavailable, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func percentile(sorted []time.Duration, p int) time.Duration {
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	return sum / time.Duration(len(latencies)),
		latencies[0],
		latencies[len(latencies)-1],
		percentile(latencies, 50),
		percentile(latencies, 95)
}

type dayKey struct {
	DoctorID int64
	Date     string
}

func (k dayKey) String() string {
	return fmt.Sprintf("doctor %d on %s", k.DoctorID, k.Date)
}

// NumberLedger remembers every appointment number the API handed out.
type NumberLedger struct {
	mu     sync.Mutex
	issued map[dayKey][]int
}

func NewNumberLedger() *NumberLedger {
	return &NumberLedger{issued: make(map[dayKey][]int)}
}

func (l *NumberLedger) Record(doctorID int64, date string, number int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := dayKey{DoctorID: doctorID, Date: date}
	l.issued[k] = append(l.issued[k], number)
}

func (l *NumberLedger) Keys() []dayKey {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys := make([]dayKey, 0, len(l.issued))
	for k := range l.issued {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].DoctorID != keys[j].DoctorID {
			return keys[i].DoctorID < keys[j].DoctorID
		}
		return keys[i].Date < keys[j].Date
	})
	return keys
}

type LedgerReport struct {
	Keys       int
	Issued     int
	Duplicates []string
	Gaps       int
}

// Check verifies no number was issued twice for the same doctor and day and
// counts the holes below each day's highest number.
func (l *NumberLedger) Check() LedgerReport {
	l.mu.Lock()
	defer l.mu.Unlock()

	var r LedgerReport
	r.Keys = len(l.issued)
	for k, numbers := range l.issued {
		seen := make(map[int]bool, len(numbers))
		highest := 0
		for _, n := range numbers {
			r.Issued++
			if seen[n] {
				r.Duplicates = append(r.Duplicates, fmt.Sprintf("%s: #%d", k, n))
				continue
			}
			seen[n] = true
			if n > highest {
				highest = n
			}
		}
		r.Gaps += highest - len(seen)
	}
	sort.Strings(r.Duplicates)
	return r
}
