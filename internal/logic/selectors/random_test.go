package selectors

import (
	"errors"
	"sync"
	"testing"
)

func TestRandomStrategy_EmptyPool(t *testing.T) {
	s := NewRandomStrategy(1)
	if _, err := s.Pick(nil); !errors.Is(err, ErrEmptyPool) {
		t.Fatalf("expected ErrEmptyPool, got %v", err)
	}
}

func TestRandomStrategy_SeededIsReproducible(t *testing.T) {
	pool := []string{"1-1", "1-2", "2-1", "2-2", "3-3"}
	a := NewRandomStrategy(42)
	b := NewRandomStrategy(42)
	for i := 0; i < 50; i++ {
		x, _ := a.Pick(pool)
		y, _ := b.Pick(pool)
		if x != y {
			t.Fatalf("draw %d differs: %s vs %s", i, x, y)
		}
	}
}

func TestRandomStrategy_UnseededStaysInPool(t *testing.T) {
	pool := []string{"a", "b", "c"}
	s := NewRandomStrategy(0)
	members := map[string]bool{"a": true, "b": true, "c": true}
	for i := 0; i < 300; i++ {
		got, err := s.Pick(pool)
		if err != nil {
			t.Fatalf("pick: %v", err)
		}
		if !members[got] {
			t.Fatalf("picked %q outside pool", got)
		}
	}
}

func TestRandomStrategy_ConcurrentPicks(t *testing.T) {
	pool := []string{"a", "b"}
	s := NewRandomStrategy(7)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if _, err := s.Pick(pool); err != nil {
					t.Errorf("pick: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestStrategyFunc(t *testing.T) {
	first := StrategyFunc(func(pool []string) (string, error) { return pool[0], nil })
	got, err := first.Pick([]string{"x", "y"})
	if err != nil || got != "x" {
		t.Fatalf("expected x, got %q (%v)", got, err)
	}
}
