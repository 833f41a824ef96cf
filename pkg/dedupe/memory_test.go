package dedupe

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestMemoryFilter_AdmitsEachIDOnce(t *testing.T) {
	f := NewMemoryFilter()
	ctx := context.Background()

	ok, err := f.Admit(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("first Admit(a) = %v, %v, want true", ok, err)
	}

	ok, err = f.Admit(ctx, "a")
	if err != nil || ok {
		t.Fatalf("second Admit(a) = %v, %v, want false", ok, err)
	}

	ok, err = f.Admit(ctx, "b")
	if err != nil || !ok {
		t.Fatalf("Admit(b) = %v, %v, want true", ok, err)
	}

	if f.Len() != 2 {
		t.Errorf("Len() = %d, want 2", f.Len())
	}
}

func TestMemoryFilter_ConcurrentClaims(t *testing.T) {
	f := NewMemoryFilter()
	ctx := context.Background()

	const workers = 20
	const ids = 100

	admitted := make([][]string, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < ids; i++ {
				id := fmt.Sprintf("id-%d", i)
				ok, err := f.Admit(ctx, id)
				if err != nil {
					t.Errorf("Admit(%s) error = %v", id, err)
					return
				}
				if ok {
					admitted[w] = append(admitted[w], id)
				}
			}
		}(w)
	}
	wg.Wait()

	// Each ID is claimed by exactly one goroutine.
	total := 0
	for _, a := range admitted {
		total += len(a)
	}
	if total != ids {
		t.Errorf("total admissions = %d, want %d", total, ids)
	}
	if f.Len() != ids {
		t.Errorf("Len() = %d, want %d", f.Len(), ids)
	}
}
