package cache

import (
	"net/url"
	"testing"
	"time"
)

func TestMemoryCacheGetSet(t *testing.T) {
	c := NewMemoryCache(0)
	defer c.Close()

	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected miss")
	}
	if err := c.Set("k", []byte(`{"items":[]}`), time.Minute); err != nil {
		t.Fatal(err)
	}
	body, ok := c.Get("k")
	if !ok || string(body) != `{"items":[]}` {
		t.Fatalf("Get = %q, %v", body, ok)
	}

	stats := c.Stats()
	if stats.Entries != 1 || stats.Hits != 1 || stats.Misses != 1 || stats.HitRate != 50 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(0)
	defer c.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("k", []byte("v"), time.Minute)
	now = now.Add(2 * time.Minute)

	if _, ok := c.Get("k"); ok {
		t.Fatal("expected expired entry to miss")
	}
	if c.Stats().Entries != 0 {
		t.Error("expired entry not removed")
	}
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	// room for two entries of this size
	c := NewMemoryCache(2*(entryOverhead+1+100) + 10)
	defer c.Close()

	body := make([]byte, 100)
	c.Set("a", body, time.Minute)
	c.Set("b", body, time.Minute)
	c.Get("a")
	c.Set("c", body, time.Minute)

	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("expected a to survive")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to be cached")
	}
}

func TestMemoryCacheReplaceDeleteClear(t *testing.T) {
	c := NewMemoryCache(0)
	defer c.Close()

	c.Set("k", []byte("one"), time.Minute)
	c.Set("k", []byte("two"), time.Minute)
	if body, _ := c.Get("k"); string(body) != "two" {
		t.Errorf("replace failed: %q", body)
	}
	if got := c.Stats().SizeBytes; got != int64(len("two")+len("k"))+entryOverhead {
		t.Errorf("size accounting off: %d", got)
	}

	c.Delete("k")
	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Error("delete failed")
	}

	c.Set("x", []byte("1"), 0)
	c.Clear()
	if c.Stats().Entries != 0 {
		t.Error("clear failed")
	}
}

func TestKey(t *testing.T) {
	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("key", "secret")
	params.Set("channelId", "UC1")
	params.Add("id", "a")
	params.Add("id", "b")

	got := Key("/videos", params)
	want := "/videos?channelId=UC1&id=a,b&part=snippet"
	if got != want {
		t.Errorf("Key = %q, want %q", got, want)
	}
	if Key("/search", nil) != "/search" {
		t.Error("empty params should yield endpoint")
	}
}
