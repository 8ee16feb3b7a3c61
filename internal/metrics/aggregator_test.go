package metrics

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/querypool/types"
)

func TestAggregator_ErrorRateSmoothing(t *testing.T) {
	t.Parallel()

	a := NewAggregator()
	assert.Zero(t, a.ErrorRate())

	a.RecordError()
	assert.InDelta(t, 0.1, a.ErrorRate(), 1e-12)

	a.RecordError()
	assert.InDelta(t, 0.19, a.ErrorRate(), 1e-12)
}

func TestAggregator_SuccessDoesNotDecayErrorRate(t *testing.T) {
	t.Parallel()

	a := NewAggregator()
	a.RecordError()
	for i := 0; i < 10; i++ {
		a.RecordRequest()
		a.RecordResponseTime(time.Millisecond)
	}
	assert.InDelta(t, 0.1, a.ErrorRate(), 1e-12)
}

func TestAggregator_ResponseTimeSmoothing(t *testing.T) {
	t.Parallel()

	a := NewAggregator()
	a.RecordResponseTime(100 * time.Millisecond)
	assert.InDelta(t, float64(10*time.Millisecond), float64(a.Snapshot(types.Occupancy{}).AverageResponseTime), 1)

	a.RecordResponseTime(100 * time.Millisecond)
	assert.InDelta(t, float64(19*time.Millisecond), float64(a.Snapshot(types.Occupancy{}).AverageResponseTime), 1)
}

func TestAggregator_Snapshot(t *testing.T) {
	t.Parallel()

	a := NewAggregator()
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	a.RecordRequest()
	a.RecordRequest()
	a.RecordHealthCheck(at.Add(-time.Minute), nil)
	a.RecordHealthCheck(at, errors.New("ping failed"))

	s := a.Snapshot(types.Occupancy{Total: 4, Active: 1, Idle: 3, Waiting: 2, MaxSize: 10})
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 1, s.Active)
	assert.Equal(t, 3, s.Idle)
	assert.Equal(t, 2, s.Waiting)
	assert.Equal(t, 10, s.MaxSize)
	assert.Equal(t, int64(2), s.TotalRequests)
	assert.Equal(t, at, s.LastHealthCheck)
	assert.Equal(t, int64(2), s.HealthChecks)
	assert.Equal(t, int64(1), s.HealthCheckFailures)
}

func TestAggregator_Concurrent(t *testing.T) {
	t.Parallel()

	a := NewAggregator()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				a.RecordRequest()
				a.RecordResponseTime(time.Millisecond)
				_ = a.Snapshot(types.Occupancy{})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1000), a.Snapshot(types.Occupancy{}).TotalRequests)
}

// Feature: query-pool, Property: error rate after n errors equals 1 - 0.9^n
func TestProperty_ErrorRateClosedForm(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("smoothed error rate follows 1 - 0.9^n and stays below 1", prop.ForAll(
		func(n int) bool {
			a := NewAggregator()
			for i := 0; i < n; i++ {
				a.RecordError()
			}
			want := 1 - math.Pow(0.9, float64(n))
			got := a.ErrorRate()
			return math.Abs(got-want) < 1e-9 && got < 1
		},
		gen.IntRange(0, 200),
	))

	properties.TestingRun(t)
}
