package sandbox

import (
	"sync"
	"testing"
)

func TestKeyedLockStablePerKey(t *testing.T) {
	k := NewKeyedLock()
	a1 := k.Get("a")
	a2 := k.Get("a")
	b := k.Get("b")
	if a1 != a2 {
		t.Errorf("same key must return the same mutex")
	}
	if a1 == b {
		t.Errorf("different keys must return different mutexes")
	}
}

func TestKeyedLockSerializesHolders(t *testing.T) {
	k := NewKeyedLock()

	var mu sync.Mutex
	inCritical := 0
	maxInCritical := 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock := k.Get("container-1")
			lock.Lock()
			defer lock.Unlock()

			mu.Lock()
			inCritical++
			if inCritical > maxInCritical {
				maxInCritical = inCritical
			}
			mu.Unlock()

			mu.Lock()
			inCritical--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxInCritical != 1 {
		t.Errorf("expected one holder at a time, saw %d", maxInCritical)
	}
}

func TestKeyedLockForget(t *testing.T) {
	k := NewKeyedLock()
	before := k.Get("x")
	k.Forget("x")
	after := k.Get("x")
	if before == after {
		t.Errorf("forget should drop the mutex so a fresh one is created")
	}
}
