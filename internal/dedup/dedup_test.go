package dedup

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestSet_TryClaim(t *testing.T) {
	t.Parallel()

	t.Run("first claim wins", func(t *testing.T) {
		t.Parallel()

		s := New()
		if !s.TryClaim("http://example.test/a.png") {
			t.Fatal("expected first claim to succeed")
		}
		if s.TryClaim("http://example.test/a.png") {
			t.Error("expected second claim to fail")
		}
		if !s.Contains("http://example.test/a.png") {
			t.Error("expected key to be recorded")
		}
	})

	t.Run("keys are exact strings", func(t *testing.T) {
		t.Parallel()

		s := New()
		s.TryClaim("http://example.test/a.png")
		if !s.TryClaim("http://example.test/a.png?v=2") {
			t.Error("expected URL with different query to be a distinct key")
		}
		if s.Len() != 2 {
			t.Errorf("expected 2 keys, got %d", s.Len())
		}
	})

	t.Run("exactly one concurrent claimer", func(t *testing.T) {
		t.Parallel()

		s := New()
		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 64 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if s.TryClaim("same") {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		if got := wins.Load(); got != 1 {
			t.Errorf("expected exactly 1 winner, got %d", got)
		}
	})
}
