package event

import "testing"

func TestDeduperFirstSightIsNew(t *testing.T) {
	d := NewDeduper(8)
	if d.Seen("EV-1") {
		t.Fatal("first sighting should not be seen")
	}
	if !d.Seen("EV-1") {
		t.Fatal("second sighting should be seen")
	}
}

func TestDeduperBoundedEviction(t *testing.T) {
	d := NewDeduper(3)
	for _, id := range []string{"a", "b", "c"} {
		d.Seen(id)
	}
	// Inserting a fourth id evicts the oldest.
	d.Seen("d")

	if d.Len() != 3 {
		t.Fatalf("expected 3 tracked ids, got %d", d.Len())
	}
	if d.Seen("a") {
		t.Fatal("evicted id should read as new")
	}
	if !d.Seen("c") {
		t.Fatal("retained id should still be seen")
	}
}

func TestDeduperConcurrent(t *testing.T) {
	d := NewDeduper(128)
	done := make(chan bool)
	for i := 0; i < 8; i++ {
		go func() {
			first := false
			for j := 0; j < 100; j++ {
				if !d.Seen("shared") {
					first = true
				}
			}
			done <- first
		}()
	}
	firsts := 0
	for i := 0; i < 8; i++ {
		if <-done {
			firsts++
		}
	}
	if firsts != 1 {
		t.Fatalf("exactly one goroutine should observe the first sighting, got %d", firsts)
	}
}
