package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestMemoryStoreKV(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got=%v", err)
	}
	if err := m.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m.Set(ctx, "k", "v2"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	got, err := m.Get(ctx, "k")
	if err != nil || got != "v2" {
		t.Fatalf("Get: want=v2 got=%q err=%v", got, err)
	}
	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound after delete, got=%v", err)
	}
}

func TestMemoryStoreSetNXClaimsOnce(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	wins := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := m.SetNX(ctx, "claim", fmt.Sprintf("writer-%d", i))
			if err != nil {
				t.Errorf("SetNX: %v", err)
				return
			}
			wins[i] = ok
		}(i)
	}
	wg.Wait()

	var winners int
	for _, ok := range wins {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("claim winners: want=1 got=%d", winners)
	}
	if _, err := m.Get(ctx, "claim"); err != nil {
		t.Fatalf("claimed key missing: %v", err)
	}

	// An existing plain Set also blocks the claim.
	if err := m.Set(ctx, "other", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ok, err := m.SetNX(ctx, "other", "w")
	if err != nil {
		t.Fatalf("SetNX: %v", err)
	}
	if ok {
		t.Fatalf("SetNX claimed an existing key")
	}
	got, err := m.Get(ctx, "other")
	if err != nil || got != "v" {
		t.Fatalf("existing value clobbered: got=%q err=%v", got, err)
	}
}

func TestMemoryStoreSetOps(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	if err := m.SAdd(ctx, "s", "b", "a", "b"); err != nil {
		t.Fatalf("SAdd: %v", err)
	}
	members, err := m.SMembers(ctx, "s")
	if err != nil {
		t.Fatalf("SMembers: %v", err)
	}
	if len(members) != 2 || members[0] != "a" || members[1] != "b" {
		t.Fatalf("members: want=[a b] got=%v", members)
	}
	if err := m.SRem(ctx, "s", "a", "nope"); err != nil {
		t.Fatalf("SRem: %v", err)
	}
	members, err = m.SMembers(ctx, "s")
	if err != nil {
		t.Fatalf("SMembers: %v", err)
	}
	if len(members) != 1 || members[0] != "b" {
		t.Fatalf("members: want=[b] got=%v", members)
	}
}

func TestMemoryStoreQueueFIFO(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	if _, err := m.LPop(ctx, "q"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound on empty pop, got=%v", err)
	}
	if err := m.RPush(ctx, "q", "1", "2", "3"); err != nil {
		t.Fatalf("RPush: %v", err)
	}
	all, err := m.LRange(ctx, "q", 0, -1)
	if err != nil {
		t.Fatalf("LRange: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("range: want=3 got=%v", all)
	}
	for _, want := range []string{"1", "2", "3"} {
		got, err := m.LPop(ctx, "q")
		if err != nil {
			t.Fatalf("LPop: %v", err)
		}
		if got != want {
			t.Fatalf("pop order: want=%q got=%q", want, got)
		}
	}
}

func TestMemoryStoreAtomicPop(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	const n = 100
	vals := make([]string, n)
	for i := range vals {
		vals[i] = fmt.Sprintf("id-%03d", i)
	}
	if err := m.RPush(ctx, "q", vals...); err != nil {
		t.Fatalf("RPush: %v", err)
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, err := m.LPop(ctx, "q")
				if errors.Is(err, ErrNotFound) {
					return
				}
				if err != nil {
					return
				}
				mu.Lock()
				seen[v]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("claimed: want=%d got=%d", n, len(seen))
	}
	for v, count := range seen {
		if count != 1 {
			t.Fatalf("%s claimed %d times", v, count)
		}
	}
}

func TestMemoryStoreScan(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		if err := m.Set(ctx, fmt.Sprintf("submission:%02d", i), "x"); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	if err := m.Set(ctx, "batch:1", "x"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var cursor uint64
	found := map[string]struct{}{}
	for {
		keys, next, err := m.Scan(ctx, cursor, "submission:*", 10)
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		for _, k := range keys {
			found[k] = struct{}{}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	if len(found) != 25 {
		t.Fatalf("scanned: want=25 got=%d", len(found))
	}
	if _, ok := found["batch:1"]; ok {
		t.Fatalf("pattern leaked a non-matching key")
	}
}
