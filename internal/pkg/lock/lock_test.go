package lock

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"pgregory.net/rapid"
)

// TestConcurrentProfileSafetyProperty: for any set of concurrent score
// mutations on the same hunter, the final value matches sequential
// execution of all mutations.
func TestConcurrentProfileSafetyProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initial := rapid.Int64Range(0, 100000).Draw(t, "initial")
		numOps := rapid.IntRange(2, 20).Draw(t, "numOps")
		hunterID := rapid.StringMatching(`h-[a-z0-9]{1,12}`).Draw(t, "hunterID")

		amounts := make([]int64, numOps)
		expected := initial
		for i := range amounts {
			amounts[i] = rapid.Int64Range(1, 500).Draw(t, "amount")
			expected += amounts[i]
		}

		hl := NewHunterLock()
		score := initial

		var wg sync.WaitGroup
		wg.Add(numOps)
		for _, amount := range amounts {
			go func(amount int64) {
				defer wg.Done()
				hl.Lock(hunterID)
				defer hl.Unlock(hunterID)
				score += amount
			}(amount)
		}
		wg.Wait()

		if score != expected {
			t.Fatalf("score mismatch: expected %d, got %d", expected, score)
		}
	})
}

func TestWithLockSerializes(t *testing.T) {
	hl := NewHunterLock()

	const ops = 50
	counter := 0

	var wg sync.WaitGroup
	wg.Add(ops)
	for i := 0; i < ops; i++ {
		go func() {
			defer wg.Done()
			_ = hl.WithLock("h-1", func() error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()

	if counter != ops {
		t.Fatalf("expected %d, got %d", ops, counter)
	}
}

func TestWithLockPropagatesError(t *testing.T) {
	hl := NewHunterLock()

	wantErr := fmt.Errorf("settlement failed")
	if err := hl.WithLock("h-1", func() error { return wantErr }); err != wantErr {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}

	// The lock must be released even when the callback fails.
	if !hl.TryLock("h-1") {
		t.Fatal("lock still held after WithLock returned")
	}
	hl.Unlock("h-1")
}

// TestIndependentHuntersProperty: locks for different hunters never
// interfere with each other's mutations.
func TestIndependentHuntersProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numHunters := rapid.IntRange(2, 8).Draw(t, "numHunters")
		opsPerHunter := rapid.IntRange(5, 20).Draw(t, "opsPerHunter")

		hl := NewHunterLock()

		scores := make([]int64, numHunters)
		var wg sync.WaitGroup
		wg.Add(numHunters * opsPerHunter)
		for h := 0; h < numHunters; h++ {
			id := fmt.Sprintf("h-%d", h)
			for op := 0; op < opsPerHunter; op++ {
				go func(h int, id string) {
					defer wg.Done()
					hl.Lock(id)
					defer hl.Unlock(id)
					scores[h] += 10
				}(h, id)
			}
		}
		wg.Wait()

		for h := 0; h < numHunters; h++ {
			if scores[h] != int64(opsPerHunter)*10 {
				t.Fatalf("hunter %d: expected %d, got %d", h, opsPerHunter*10, scores[h])
			}
		}
	})
}

func TestTryLockExcludesConcurrentHolders(t *testing.T) {
	hl := NewHunterLock()

	const attempts = 10
	var successes atomic.Int32
	start := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			<-start
			if hl.TryLock("h-1") {
				successes.Add(1)
				hl.Unlock("h-1")
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes.Load() < 1 {
		t.Fatalf("expected at least one TryLock success, got %d", successes.Load())
	}

	if !hl.TryLock("h-1") {
		t.Fatal("lock should be free after all holders released")
	}
	hl.Unlock("h-1")
}

func TestLockUnlockSymmetry(t *testing.T) {
	hl := NewHunterLock()

	for i := 0; i < 100; i++ {
		hl.Lock("h-1")
		hl.Unlock("h-1")
	}

	if !hl.TryLock("h-1") {
		t.Fatal("lock should be free after symmetric lock/unlock cycles")
	}
	hl.Unlock("h-1")
}
