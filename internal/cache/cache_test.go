package cache

import (
	"testing"
)

func TestMapCache(t *testing.T) {
	c := NewMapCache()

	if _, ok := c.Get("missing"); ok {
		t.Error("empty cache reported a hit")
	}

	payload := []byte{1, 2, 3}
	c.Put("a", payload)

	got, ok := c.Get("a")
	if !ok {
		t.Fatal("cached record missing")
	}
	if string(got) != string(payload) {
		t.Errorf("got %v, want %v", got, payload)
	}
	if c.Size() != 1 {
		t.Errorf("Size() = %d, want 1", c.Size())
	}

	// Both stored and returned slices must be isolated from the caller.
	payload[0] = 99
	got[1] = 99
	fresh, _ := c.Get("a")
	if fresh[0] != 1 || fresh[1] != 2 {
		t.Errorf("cache shares storage with callers: %v", fresh)
	}
}

func TestMapCacheOverwrite(t *testing.T) {
	c := NewMapCache()
	c.Put("k", []byte{1})
	c.Put("k", []byte{2})

	got, _ := c.Get("k")
	if len(got) != 1 || got[0] != 2 {
		t.Errorf("got %v after overwrite", got)
	}
	if c.Size() != 1 {
		t.Errorf("Size() = %d, want 1", c.Size())
	}
}
