package timerset

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAfterFiresOnce(t *testing.T) {
	s := New()
	defer s.Stop()

	var count int32
	s.After(10*time.Millisecond, func() { atomic.AddInt32(&count, 1) })

	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&count))
}

func TestEveryFiresRepeatedly(t *testing.T) {
	s := New()
	defer s.Stop()

	var count int32
	s.Every(10*time.Millisecond, func() { atomic.AddInt32(&count, 1) })

	time.Sleep(65 * time.Millisecond)
	got := atomic.LoadInt32(&count)
	assert.GreaterOrEqual(t, got, int32(3))
	assert.LessOrEqual(t, got, int32(8))
}

func TestCancelPreventsFiring(t *testing.T) {
	s := New()
	defer s.Stop()

	var count int32
	id := s.After(10*time.Millisecond, func() { atomic.AddInt32(&count, 1) })
	s.Cancel(id)

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&count))
}

func TestResetDelaysFiring(t *testing.T) {
	s := New()
	defer s.Stop()

	var fired int32
	id := s.After(20*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })

	time.Sleep(10 * time.Millisecond)
	s.Reset(id, 40*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&fired), "reset should have pushed the deadline out")

	time.Sleep(40 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&fired))
}

func TestOrderingFiresEarliestFirst(t *testing.T) {
	s := New()
	defer s.Stop()

	var order []int
	done := make(chan struct{}, 3)
	record := func(n int) func() {
		return func() {
			order = append(order, n)
			done <- struct{}{}
		}
	}
	s.After(30*time.Millisecond, record(3))
	s.After(10*time.Millisecond, record(1))
	s.After(20*time.Millisecond, record(2))

	for i := 0; i < 3; i++ {
		<-done
	}
	assert.Equal(t, []int{1, 2, 3}, order)
}
