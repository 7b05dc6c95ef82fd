package main

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumberLedger_Check(t *testing.T) {
	l := NewNumberLedger()

	for _, n := range []int{1, 2, 4} {
		l.Record(42, "2024-06-01", n)
	}
	l.Record(42, "2024-06-02", 1)
	l.Record(43, "2024-06-01", 1)
	l.Record(43, "2024-06-01", 1)

	r := l.Check()
	assert.Equal(t, 3, r.Keys)
	assert.Equal(t, 6, r.Issued)
	assert.Equal(t, 1, r.Gaps, "#3 missing for doctor 42")
	require.Len(t, r.Duplicates, 1)
	assert.Equal(t, "doctor 43 on 2024-06-01: #1", r.Duplicates[0])

	keys := l.Keys()
	require.Len(t, keys, 3)
	assert.Equal(t, dayKey{DoctorID: 42, Date: "2024-06-01"}, keys[0])
	assert.Equal(t, dayKey{DoctorID: 43, Date: "2024-06-01"}, keys[2])
}

func TestNumberLedger_ConcurrentRecord(t *testing.T) {
	l := NewNumberLedger()

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			l.Record(1, "2024-06-01", n)
		}(i)
	}
	wg.Wait()

	r := l.Check()
	assert.Equal(t, 50, r.Issued)
	assert.Zero(t, r.Gaps)
	assert.Empty(t, r.Duplicates)
}

func TestOperationMetrics_Stats(t *testing.T) {
	var om OperationMetrics
	for i := 1; i <= 10; i++ {
		om.Record(time.Duration(i)*time.Millisecond, i%2 == 0, i == 1)
	}

	avg, min, max, p50, p95 := om.Stats()
	assert.Equal(t, int64(10), om.Total)
	assert.Equal(t, int64(5), om.Success)
	assert.Equal(t, int64(1), om.Unavailable)
	assert.Equal(t, int64(4), om.Error)
	assert.Equal(t, 5500*time.Microsecond, avg)
	assert.Equal(t, time.Millisecond, min)
	assert.Equal(t, 10*time.Millisecond, max)
	assert.Equal(t, 6*time.Millisecond, p50)
	assert.Equal(t, 10*time.Millisecond, p95)
}
