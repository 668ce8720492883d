package session

import (
	"fmt"
	"sync"
	"testing"
)

func TestStoreStartsEmpty(t *testing.T) {
	var store Store

	id, ok := store.Get()
	if ok || id != "" {
		t.Fatalf("Get() = %q, %v, want empty", id, ok)
	}
}

func TestSetIfAbsentOnlyFirstWins(t *testing.T) {
	var store Store

	if !store.SetIfAbsent("abc123") {
		t.Fatal("expected first id to be stored")
	}
	if store.SetIfAbsent("zzz999") {
		t.Fatal("expected second id to be ignored")
	}

	id, ok := store.Get()
	if !ok || id != "abc123" {
		t.Fatalf("Get() = %q, %v, want abc123", id, ok)
	}
}

func TestSetIfAbsentIgnoresBlank(t *testing.T) {
	var store Store

	if store.SetIfAbsent("   ") {
		t.Fatal("expected blank id to be ignored")
	}
	if store.SetIfAbsent("") {
		t.Fatal("expected empty id to be ignored")
	}
	if !store.SetIfAbsent("abc123") {
		t.Fatal("expected id after blanks to be stored")
	}
}

func TestSetIfAbsentKeepsIDVerbatim(t *testing.T) {
	var store Store
	store.SetIfAbsent(" padded ")

	if id, _ := store.Get(); id != " padded " {
		t.Fatalf("Get() = %q, want the id unchanged", id)
	}
}

func TestSetIfAbsentConcurrent(t *testing.T) {
	var store Store
	var wg sync.WaitGroup
	stored := make(chan string, 32)

	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("session-%d", i)
			if store.SetIfAbsent(id) {
				stored <- id
			}
		}()
	}
	wg.Wait()
	close(stored)

	var winners []string
	for id := range stored {
		winners = append(winners, id)
	}
	if len(winners) != 1 {
		t.Fatalf("winners = %v, want exactly one", winners)
	}
	if id, _ := store.Get(); id != winners[0] {
		t.Fatalf("Get() = %q, want %q", id, winners[0])
	}
}
