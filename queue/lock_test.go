package queue_test

import (
	"testing"
	"time"

	// Packages
	queue "github.com/koudelka/honeydew/queue"
	assert "github.com/stretchr/testify/assert"
)

func Test_Lock_001(t *testing.T) {
	assert := assert.New(t)
	now := queue.NowMillis(time.Now())

	t.Run("NilIsFinished", func(t *testing.T) {
		assert.Equal(queue.StateFinished, queue.ClassifyLock(nil, now))
	})

	t.Run("AbandonedIsTerminal", func(t *testing.T) {
		v := queue.LockAbandoned
		assert.Equal(queue.StateAbandoned, queue.ClassifyLock(&v, now))
	})

	t.Run("ZeroIsReady", func(t *testing.T) {
		v := int64(0)
		assert.Equal(queue.StateReady, queue.ClassifyLock(&v, now))
	})

	t.Run("ReadyWatermarkIsReady", func(t *testing.T) {
		v := queue.ReadyWatermark(now)
		assert.Equal(queue.StateReady, queue.ClassifyLock(&v, now))
	})

	t.Run("JustPastWatermarkIsDelayed", func(t *testing.T) {
		v := queue.ReadyWatermark(now) + 1
		assert.Equal(queue.StateDelayed, queue.ClassifyLock(&v, now))
	})

	t.Run("JustBeforeNowMinusStaleWindowIsDelayed", func(t *testing.T) {
		v := queue.StaleBoundary(now) - 1
		assert.Equal(queue.StateDelayed, queue.ClassifyLock(&v, now))
	})

	t.Run("StaleBoundaryIsStale", func(t *testing.T) {
		v := queue.StaleBoundary(now)
		assert.Equal(queue.StateStale, queue.ClassifyLock(&v, now))
	})

	t.Run("JustBeforeNowIsStale", func(t *testing.T) {
		v := now - 1
		assert.Equal(queue.StateStale, queue.ClassifyLock(&v, now))
	})

	t.Run("NowIsInProgress", func(t *testing.T) {
		assert.Equal(queue.StateInProgress, queue.ClassifyLock(&now, now))
	})

	t.Run("FutureIsInProgress", func(t *testing.T) {
		v := now + 60_000
		assert.Equal(queue.StateInProgress, queue.ClassifyLock(&v, now))
	})
}

func Test_Lock_ReserveAndDelay(t *testing.T) {
	assert := assert.New(t)
	now := queue.NowMillis(time.Now())

	t.Run("ReserveValueIsInProgress", func(t *testing.T) {
		v := queue.ReserveLockValue(now, 5*time.Minute)
		assert.Equal(queue.StateInProgress, queue.ClassifyLock(&v, now))
		assert.Equal(now+300_000, v)
	})

	t.Run("ZeroDelayBecomesReadyImmediately", func(t *testing.T) {
		v := queue.DelayLockValue(now, 0)
		assert.Equal(queue.StateReady, queue.ClassifyLock(&v, now))
	})

	t.Run("PositiveDelayIsDelayed", func(t *testing.T) {
		v := queue.DelayLockValue(now, time.Hour)
		assert.Equal(queue.StateDelayed, queue.ClassifyLock(&v, now))
	})
}

func Test_Lock_RangesDoNotOverlap(t *testing.T) {
	assert := assert.New(t)
	now := queue.NowMillis(time.Now())

	assert.Less(queue.ReadyWatermark(now), queue.StaleBoundary(now))
	assert.Less(queue.StaleBoundary(now), now)
	assert.Less(queue.LockAbandoned, int64(0))
}
