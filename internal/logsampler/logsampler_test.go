// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

package logsampler

import (
	"sync"
	"testing"

	"github.com/sgaydamakov/counters-engine/internal/models"
)

func sampleWithTotal(total int64) Sample {
	return Sample{
		Fact:           &models.Fact{ID: "f"},
		ProcessingTime: models.ProcessingTime{Total: total},
	}
}

func TestObserve_PersistsOnlyAtWindowBoundary(t *testing.T) {
	s := New(3)
	var persisted []Sample

	s.Observe(sampleWithTotal(10), func(sm Sample) { persisted = append(persisted, sm) })
	s.Observe(sampleWithTotal(20), func(sm Sample) { persisted = append(persisted, sm) })
	if len(persisted) != 0 {
		t.Fatalf("expected no persist before the window closes, got %d", len(persisted))
	}

	s.Observe(sampleWithTotal(5), func(sm Sample) { persisted = append(persisted, sm) })
	if len(persisted) != 1 {
		t.Fatalf("expected exactly one persist at the window boundary, got %d", len(persisted))
	}
}

func TestObserve_PersistsTheWorstOfWindow(t *testing.T) {
	s := New(3)
	var persisted Sample

	s.Observe(sampleWithTotal(10), func(sm Sample) { persisted = sm })
	s.Observe(sampleWithTotal(50), func(sm Sample) { persisted = sm })
	s.Observe(sampleWithTotal(20), func(sm Sample) { persisted = sm })

	if persisted.ProcessingTime.Total != 50 {
		t.Errorf("persisted.ProcessingTime.Total = %d, want 50 (the worst of the window)", persisted.ProcessingTime.Total)
	}
}

func TestObserve_ResetsAfterWindowCloses(t *testing.T) {
	s := New(2)
	var persisted []Sample
	record := func(sm Sample) { persisted = append(persisted, sm) }

	s.Observe(sampleWithTotal(100), record)
	s.Observe(sampleWithTotal(1), record) // closes window 1, worst=100

	s.Observe(sampleWithTotal(5), record)
	s.Observe(sampleWithTotal(3), record) // closes window 2, worst=5

	if len(persisted) != 2 {
		t.Fatalf("expected 2 persisted samples, got %d", len(persisted))
	}
	if persisted[0].ProcessingTime.Total != 100 {
		t.Errorf("first persisted = %d, want 100", persisted[0].ProcessingTime.Total)
	}
	if persisted[1].ProcessingTime.Total != 5 {
		t.Errorf("second persisted = %d, want 5", persisted[1].ProcessingTime.Total)
	}
}

func TestObserve_ConcurrentSafe(t *testing.T) {
	s := New(100)
	var mu sync.Mutex
	var persistCount int
	var wg sync.WaitGroup

	for i := 0; i < 500; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			s.Observe(sampleWithTotal(int64(i)), func(sm Sample) {
				mu.Lock()
				persistCount++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	if persistCount != 5 {
		t.Errorf("persistCount = %d, want 5 (500 requests / window 100)", persistCount)
	}
}
