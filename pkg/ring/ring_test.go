package ring

import "testing"

func TestPushBelowCapacity(t *testing.T) {
	t.Parallel()
	b := New[int](4)

	b.Push(1)
	b.Push(2)
	b.Push(3)

	if b.Len() != 3 {
		t.Fatalf("Len = %d, want 3", b.Len())
	}
	got := b.Snapshot()
	want := []int{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Snapshot[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPushEvictsOldest(t *testing.T) {
	t.Parallel()
	b := New[int](3)

	for i := 1; i <= 5; i++ {
		b.Push(i)
	}

	if b.Len() != 3 {
		t.Fatalf("Len = %d, want 3", b.Len())
	}
	got := b.Snapshot()
	want := []int{3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Snapshot[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestSnapshotNewest(t *testing.T) {
	t.Parallel()
	b := New[int](4)
	for i := 1; i <= 6; i++ {
		b.Push(i)
	}

	got := b.SnapshotNewest(0)
	want := []int{6, 5, 4, 3}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("SnapshotNewest[%d] = %d, want %d", i, got[i], want[i])
		}
	}

	limited := b.SnapshotNewest(2)
	if len(limited) != 2 || limited[0] != 6 || limited[1] != 5 {
		t.Errorf("SnapshotNewest(2) = %v, want [6 5]", limited)
	}
}

func TestLast(t *testing.T) {
	t.Parallel()
	b := New[string](2)

	if _, ok := b.Last(); ok {
		t.Error("Last on empty buffer should return false")
	}

	b.Push("a")
	b.Push("b")
	b.Push("c")
	if v, ok := b.Last(); !ok || v != "c" {
		t.Errorf("Last = %q, %v, want \"c\", true", v, ok)
	}
}

func TestCapNeverExceeded(t *testing.T) {
	t.Parallel()
	b := New[int](8)
	for i := 0; i < 1000; i++ {
		b.Push(i)
		if b.Len() > b.Cap() {
			t.Fatalf("Len %d exceeds Cap %d", b.Len(), b.Cap())
		}
	}
}
