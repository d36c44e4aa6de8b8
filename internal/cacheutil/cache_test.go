package cacheutil

import (
	"testing"
	"time"
)

func TestAddGetRoundTrip(t *testing.T) {
	c := New[string, int](LRU, 4, 0, nil)
	c.Add("a", 1, true)
	v, ok := c.Get("a")
	if !ok || v != 1 {
		t.Fatalf("expected (1, true), got (%d, %v)", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatalf("expected miss for absent key")
	}
}

func TestAddNoReplace(t *testing.T) {
	c := New[string, int](LRU, 4, 0, nil)
	c.Add("a", 1, true)
	if c.Add("a", 2, false) {
		t.Fatalf("expected Add with replace=false to report false on existing key")
	}
	v, _ := c.Get("a")
	if v != 1 {
		t.Fatalf("expected original value preserved, got %d", v)
	}
	if !c.Add("a", 2, true) {
		t.Fatalf("expected Add with replace=true to succeed")
	}
	v, _ = c.Get("a")
	if v != 2 {
		t.Fatalf("expected replaced value 2, got %d", v)
	}
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	c := New[string, int](LRU, 2, 0, func(k string, v int) { evicted = append(evicted, k) })
	c.Add("a", 1, true)
	c.Add("b", 2, true)
	c.Get("a") // a is now most-recently-used; b is least-recently-used
	c.Add("c", 3, true)

	if len(evicted) != 1 || evicted[0] != "b" {
		t.Fatalf("expected b evicted, got %v", evicted)
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected a to survive eviction")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatalf("expected c to be present")
	}
}

func TestMRUEvictsMostRecentlyUsed(t *testing.T) {
	var evicted []string
	c := New[string, int](MRU, 2, 0, func(k string, v int) { evicted = append(evicted, k) })
	c.Add("a", 1, true)
	c.Add("b", 2, true)
	c.Get("b") // b is now most-recently-used
	c.Add("c", 3, true)

	if len(evicted) != 1 || evicted[0] != "b" {
		t.Fatalf("expected b (most recently used) evicted, got %v", evicted)
	}
}

func TestTTLExpiresEntries(t *testing.T) {
	var evicted []string
	c := New[string, int](LRU, 10, time.Millisecond, func(k string, v int) { evicted = append(evicted, k) })
	fixed := time.Now()
	c.now = func() time.Time { return fixed }
	c.Add("a", 1, true)

	c.now = func() time.Time { return fixed.Add(2 * time.Millisecond) }
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected expired key to miss")
	}
	if len(evicted) != 1 || evicted[0] != "a" {
		t.Fatalf("expected expiration to fire onEvict for a, got %v", evicted)
	}
}

func TestPopRemovesWithoutOnEvict(t *testing.T) {
	var evicted []string
	c := New[string, int](LRU, 4, 0, func(k string, v int) { evicted = append(evicted, k) })
	c.Add("a", 1, true)
	v, ok := c.Pop("a")
	if !ok || v != 1 {
		t.Fatalf("expected Pop to return (1, true), got (%d, %v)", v, ok)
	}
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected a removed after Pop")
	}
	if len(evicted) != 0 {
		t.Fatalf("Pop must not trigger onEvict, got %v", evicted)
	}
}

func TestGetAllSnapshot(t *testing.T) {
	c := New[string, int](LRU, 4, 0, nil)
	c.Add("a", 1, true)
	c.Add("b", 2, true)
	all := c.GetAll()
	if len(all) != 2 || all["a"] != 1 || all["b"] != 2 {
		t.Fatalf("unexpected snapshot: %v", all)
	}
}

func TestSizeReflectsLiveEntries(t *testing.T) {
	c := New[string, int](LRU, 4, 0, nil)
	if c.Size() != 0 {
		t.Fatalf("expected empty cache")
	}
	c.Add("a", 1, true)
	c.Add("b", 2, true)
	if c.Size() != 2 {
		t.Fatalf("expected size 2, got %d", c.Size())
	}
	c.Del("a")
	if c.Size() != 1 {
		t.Fatalf("expected size 1 after Del, got %d", c.Size())
	}
}
