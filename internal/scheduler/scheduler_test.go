package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestScheduleFires(t *testing.T) {
	s := New()
	defer s.Stop()

	var calls atomic.Int32
	assert.True(t, s.Schedule("a", 10*time.Millisecond, func() { calls.Add(1) }))
	assert.True(t, s.Has("a"))

	waitFor(t, func() bool { return calls.Load() == 1 })
	assert.False(t, s.Has("a"))
	assert.Equal(t, 0, s.Pending())
}

func TestRescheduleReplaces(t *testing.T) {
	s := New()
	defer s.Stop()

	var first, second atomic.Int32
	s.Schedule("a", 20*time.Millisecond, func() { first.Add(1) })
	s.Schedule("a", 30*time.Millisecond, func() { second.Add(1) })
	assert.Equal(t, 1, s.Pending())

	waitFor(t, func() bool { return second.Load() == 1 })
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}

func TestCancel(t *testing.T) {
	s := New()
	defer s.Stop()

	var calls atomic.Int32
	s.Schedule("a", 20*time.Millisecond, func() { calls.Add(1) })
	assert.True(t, s.Cancel("a"))
	assert.False(t, s.Cancel("a"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestStopCancelsEverything(t *testing.T) {
	s := New()

	var calls atomic.Int32
	for _, key := range []string{"a", "b", "c"} {
		s.Schedule(key, 20*time.Millisecond, func() { calls.Add(1) })
	}
	assert.Equal(t, 3, s.Pending())

	s.Stop()
	assert.Equal(t, 0, s.Pending())
	assert.False(t, s.Schedule("d", time.Millisecond, func() { calls.Add(1) }))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestStopWaitsForRunningTask(t *testing.T) {
	s := New()

	started := make(chan struct{})
	var finished atomic.Bool
	s.Schedule("slow", time.Millisecond, func() {
		close(started)
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
	})

	<-started
	s.Stop()
	assert.True(t, finished.Load())
}
