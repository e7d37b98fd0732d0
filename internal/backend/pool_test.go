package backend_test

import (
	"context"
	"testing"

	"github.com/averlon/carddavd/internal/backend"
	"github.com/averlon/carddavd/internal/backend/memory"
)

func newPool(t *testing.T) (*backend.Pool, *int) {
	t.Helper()
	store := memory.NewStore(100)
	built := 0
	factory := func(prefix string) backend.Handler {
		built++
		return memory.NewHandler(store, prefix)
	}
	return backend.NewPool(factory), &built
}

func TestPoolReusesReleasedHandler(t *testing.T) {
	p, built := newPool(t)
	key := backend.PoolKey{Prefix: "/dav", Account: "alice"}

	h1, release, err := p.Checkout(context.Background(), key)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	release()

	h2, release2, err := p.Checkout(context.Background(), key)
	if err != nil {
		t.Fatalf("checkout after release: %v", err)
	}
	defer release2()

	if h1 != h2 {
		t.Fatal("released handler should be handed out again")
	}
	if *built != 1 {
		t.Fatalf("factory ran %d times, want 1", *built)
	}
}

func TestPoolConcurrentCheckoutsAreDistinct(t *testing.T) {
	p, built := newPool(t)
	key := backend.PoolKey{Prefix: "/dav", Account: "alice"}

	h1, release1, err := p.Checkout(context.Background(), key)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	defer release1()
	h2, release2, err := p.Checkout(context.Background(), key)
	if err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	defer release2()

	if h1 == h2 {
		t.Fatal("a checked out handler must never be handed out twice")
	}
	if *built != 2 {
		t.Fatalf("factory ran %d times, want 2", *built)
	}
}

func TestPoolKeysAreIsolated(t *testing.T) {
	p, _ := newPool(t)

	ha, releaseA, err := p.Checkout(context.Background(), backend.PoolKey{Prefix: "/dav", Account: "alice"})
	if err != nil {
		t.Fatalf("checkout alice: %v", err)
	}
	releaseA()

	hb, releaseB, err := p.Checkout(context.Background(), backend.PoolKey{Prefix: "/dav", Account: "bob"})
	if err != nil {
		t.Fatalf("checkout bob: %v", err)
	}
	defer releaseB()

	if ha == hb {
		t.Fatal("idle handlers must not cross accounts")
	}
}
