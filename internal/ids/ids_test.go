package ids

import (
	"strings"
	"sync"
	"testing"
)

func TestTranIDUnique(t *testing.T) {
	const n = 2000
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, n)
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := TranID()
			mu.Lock()
			defer mu.Unlock()
			if _, dup := seen[id]; dup {
				t.Errorf("duplicate tran id %s", id)
			}
			seen[id] = struct{}{}
		}()
	}
	wg.Wait()
	if len(seen) != n {
		t.Fatalf("expected %d ids, got %d", n, len(seen))
	}
}

func TestTranIDFormat(t *testing.T) {
	id := TranID()
	if !strings.HasPrefix(id, TranPrefix) {
		t.Fatalf("missing prefix: %s", id)
	}
	if !Valid(strings.TrimPrefix(id, TranPrefix)) {
		t.Fatalf("body is not a ulid: %s", id)
	}
	if Valid("not-an-id") {
		t.Fatal("expected invalid id to be rejected")
	}
}
