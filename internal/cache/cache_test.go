package cache

import "testing"

func TestPutGetRoundTrip(t *testing.T) {
	c := New()
	if got := c.Get(10); got != 0 {
		t.Fatalf("Get on empty cache = %d, want 0", got)
	}
	c.Put(10, 1234)
	if got := c.Get(10); got != 1234 {
		t.Fatalf("Get(10) = %d, want 1234", got)
	}
}

func TestPutAll(t *testing.T) {
	c := New()
	c.PutAll(map[uint16]uint16{0: 1, 40: 2, 200: 3})
	if c.Get(0) != 1 || c.Get(40) != 2 || c.Get(200) != 3 {
		t.Fatalf("PutAll did not set every entry: %d %d %d", c.Get(0), c.Get(40), c.Get(200))
	}
}

func TestOutOfBoundsRegisterIgnored(t *testing.T) {
	c := New()
	c.Put(Size, 999) // out of range, should be a silent no-op
	if got := c.Get(Size); got != 0 {
		t.Fatalf("Get(Size) = %d, want 0", got)
	}
}
