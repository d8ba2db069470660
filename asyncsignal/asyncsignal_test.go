package asyncsignal_test

import (
	"sync"
	"testing"

	"github.com/m-lab/ustack/asyncsignal"
)

func TestSignalIsIdempotentBetweenDispatches(t *testing.T) {
	b := asyncsignal.New()
	count := 0
	s := b.NewSignal(func() { count++ })

	s.Signal()
	s.Signal()
	s.Signal()
	b.Dispatch()

	if count != 1 {
		t.Fatalf("count = %d, want 1 (idempotent within a dispatch cycle)", count)
	}
}

func TestWakeOnlyOnEmptyToNonEmpty(t *testing.T) {
	b := asyncsignal.New()
	s1 := b.NewSignal(func() {})
	s2 := b.NewSignal(func() {})

	s1.Signal()
	s2.Signal() // should not wake a second time; wake chan already has a slot

	select {
	case <-b.WakeChan():
	default:
		t.Fatal("expected a wakeup")
	}
	select {
	case <-b.WakeChan():
		t.Fatal("did not expect a second wakeup before Reset/Dispatch")
	default:
	}
}

func TestLateSignalDuringDispatchDeliveredNextPass(t *testing.T) {
	b := asyncsignal.New()
	var second *asyncsignal.Signal
	secondFired := 0
	second = b.NewSignal(func() { secondFired++ })

	firstFired := 0
	first := b.NewSignal(func() {
		firstFired++
		second.Signal() // signal a peer mid-dispatch
	})
	first.Signal()
	b.Dispatch()

	if firstFired != 1 || secondFired != 0 {
		t.Fatalf("after first dispatch: firstFired=%d secondFired=%d, want 1,0", firstFired, secondFired)
	}

	b.Dispatch()
	if secondFired != 1 {
		t.Fatalf("after second dispatch: secondFired=%d, want 1", secondFired)
	}
}

func TestConcurrentSignalFromOtherGoroutines(t *testing.T) {
	b := asyncsignal.New()
	var mu sync.Mutex
	count := 0
	s := b.NewSignal(func() {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Signal()
		}()
	}
	wg.Wait()
	b.Dispatch()

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}
