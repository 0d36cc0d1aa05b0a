package room

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestAcquireMutualExclusion(t *testing.T) {
	r := NewHub(Config{}).Room("c1")

	first, ok := r.Acquire("fog_edit", alice)
	if !ok || first.OwnerUserID != "u1" {
		t.Fatalf("first acquire = %+v, %v", first, ok)
	}
	held, ok := r.Acquire("fog_edit", bob)
	if ok {
		t.Fatal("second identity must not acquire a held lock")
	}
	if held.OwnerUserID != "u1" || held.OwnerName != "Alice" {
		t.Fatalf("reported holder = %+v", held)
	}
}

func TestAcquireRefreshesOwnLock(t *testing.T) {
	clock := newFakeClock()
	r := NewHub(Config{Now: clock.Now, LockTTL: 10 * time.Second}).Room("c1")

	first, _ := r.Acquire("fog_edit", alice)
	clock.Advance(5 * time.Second)
	second, ok := r.Acquire("fog_edit", alice)
	if !ok {
		t.Fatal("owner must be able to refresh")
	}
	if !second.ExpiresAt.After(first.ExpiresAt) {
		t.Fatalf("expiry not extended: %v -> %v", first.ExpiresAt, second.ExpiresAt)
	}
}

func TestLockExpiresWithoutRelease(t *testing.T) {
	clock := newFakeClock()
	r := NewHub(Config{Now: clock.Now}).Room("c1")
	r.Acquire("fog_edit", alice)

	clock.Advance(DefaultLockTTL - time.Millisecond)
	if _, ok := r.Acquire("fog_edit", bob); ok {
		t.Fatal("lock acquired before expiry")
	}
	clock.Advance(time.Millisecond)
	lock, ok := r.Acquire("fog_edit", bob)
	if !ok || lock.OwnerUserID != "u2" {
		t.Fatalf("acquire after expiry = %+v, %v", lock, ok)
	}
}

func TestReleaseOnlyByOwner(t *testing.T) {
	r := NewHub(Config{}).Room("c1")
	r.Acquire("token_move", alice)

	if r.Release("token_move", "u2") {
		t.Fatal("non-owner release must fail")
	}
	if r.Release("missing", "u1") {
		t.Fatal("release of absent lock must fail")
	}
	if !r.Release("token_move", "u1") {
		t.Fatal("owner release must succeed")
	}
	if locks := r.State().Locks; len(locks) != 0 {
		t.Fatalf("expected lock gone, got %+v", locks)
	}
}

func TestStateSweepsExpiredLocks(t *testing.T) {
	clock := newFakeClock()
	r := NewHub(Config{Now: clock.Now, LockTTL: time.Second}).Room("c1")
	r.Acquire("b", alice)
	clock.Advance(500 * time.Millisecond)
	r.Acquire("a", bob)
	clock.Advance(600 * time.Millisecond)

	locks := r.State().Locks
	if len(locks) != 1 || locks[0].Resource != "a" {
		t.Fatalf("locks = %+v", locks)
	}
}

func TestExclusiveGuardSeesLiveLocks(t *testing.T) {
	clock := newFakeClock()
	r := NewHub(Config{Now: clock.Now}).Room("c1")
	r.Acquire("fog_edit", alice)

	swept, err := r.Exclusive(func(g *Guard) error {
		lock, ok := g.Holder("fog_edit")
		if !ok || lock.OwnerUserID != "u1" {
			t.Errorf("holder = %+v, %v", lock, ok)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("exclusive: %v", err)
	}
	if swept {
		t.Fatal("nothing expired yet")
	}

	clock.Advance(DefaultLockTTL)
	swept, _ = r.Exclusive(func(g *Guard) error {
		if _, ok := g.Holder("fog_edit"); ok {
			t.Error("expired lock visible inside exclusive section")
		}
		return nil
	})
	if !swept {
		t.Fatal("expected the expired lock to be reported as swept")
	}
}

func TestExclusiveReturnsFnError(t *testing.T) {
	r := NewHub(Config{}).Room("c1")
	want := errors.New("boom")
	swept, err := r.Exclusive(func(*Guard) error { return want })
	if !errors.Is(err, want) || swept {
		t.Fatalf("exclusive = %v, %v", swept, err)
	}
}

func TestConcurrentAcquireGrantsOneOwner(t *testing.T) {
	r := NewHub(Config{}).Room("c1")
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := alice
			if i%2 == 1 {
				id = bob
			}
			if lock, ok := r.Acquire("fog_edit", id); ok && lock.OwnerUserID == id.UserID {
				mu.Lock()
				if id.UserID != "" {
					winners |= 1 << (i % 2)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 && winners != 2 {
		t.Fatalf("both identities were granted the lock (mask %b)", winners)
	}
}

func TestLockJSON(t *testing.T) {
	expires := time.UnixMilli(1700000000123)
	raw, err := json.Marshal(Lock{Resource: "fog_edit", OwnerUserID: "u1", OwnerName: "Alice", ExpiresAt: expires})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"resource":"fog_edit","ownerUserId":"u1","ownerName":"Alice","expiresAt":1700000000123}`
	if string(raw) != want {
		t.Fatalf("json = %s", raw)
	}
}
