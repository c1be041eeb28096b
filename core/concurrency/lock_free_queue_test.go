package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockFreeQueue_FullAndEmpty(t *testing.T) {
	q := NewLockFreeQueue[int](4)
	if _, ok := q.Dequeue(); ok {
		t.Fatal("dequeue on empty queue reported ok")
	}
	for i := 0; i < q.Cap(); i++ {
		if !q.Enqueue(i) {
			t.Fatalf("enqueue %d rejected before capacity", i)
		}
	}
	if q.Enqueue(99) {
		t.Fatal("enqueue accepted past capacity")
	}
	for i := 0; i < q.Cap(); i++ {
		v, ok := q.Dequeue()
		if !ok || v != i {
			t.Fatalf("dequeue %d: got %v ok=%v", i, v, ok)
		}
	}
}

func TestLockFreeQueue_MPMC(t *testing.T) {
	q := NewLockFreeQueue[int](1024)
	producers := 8
	consumers := 8
	itemsPerProducer := 20000

	var wg sync.WaitGroup
	var sentSum int64
	var receivedSum int64
	var receivedCount int64
	totalItems := int64(producers * itemsPerProducer)

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				val := pid*itemsPerProducer + i + 1
				for !q.Enqueue(val) {
					runtime.Gosched()
				}
				atomic.AddInt64(&sentSum, int64(val))
			}
		}(p)
	}

	consumerWg := sync.WaitGroup{}
	for c := 0; c < consumers; c++ {
		consumerWg.Add(1)
		go func() {
			defer consumerWg.Done()
			for {
				if val, ok := q.Dequeue(); ok {
					atomic.AddInt64(&receivedSum, int64(val))
					if atomic.AddInt64(&receivedCount, 1) == totalItems {
						return
					}
				} else {
					if atomic.LoadInt64(&receivedCount) >= totalItems {
						return
					}
					runtime.Gosched()
				}
			}
		}()
	}

	wg.Wait()

	done := make(chan struct{})
	go func() {
		consumerWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if sentSum != receivedSum {
			t.Errorf("checksum mismatch: sent %d, received %d", sentSum, receivedSum)
		}
	case <-time.After(10 * time.Second):
		t.Errorf("timeout waiting for consumers, received %d/%d",
			atomic.LoadInt64(&receivedCount), totalItems)
	}
}
