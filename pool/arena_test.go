package pool_test

import (
	"testing"

	"github.com/momentics/netloop/pool"
)

func TestArenaReuse(t *testing.T) {
	a := pool.NewArena()
	b1 := a.Alloc(128)
	if b1.Len() != 128 {
		t.Fatalf("Len = %d, want 128", b1.Len())
	}
	b1.Release()

	b2 := a.Alloc(64)
	if cap(b2.Bytes()) < 128 {
		t.Error("expected class-sized backing to be reused")
	}
	b2.Release()

	st := a.Stats()
	if st.Allocs != 1 || st.Reuses != 1 || st.Releases != 2 || st.InUse != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestArenaShrink(t *testing.T) {
	a := pool.NewArena()
	b := a.Alloc(1024)
	copy(b.Bytes(), "hello")
	b.Shrink(5)
	if string(b.Bytes()) != "hello" {
		t.Errorf("payload = %q", b.Bytes())
	}
	if b.Len() != 5 {
		t.Errorf("Len = %d, want 5", b.Len())
	}
	b.Release()

	// Reuse restores the full class size.
	b2 := a.Alloc(1024)
	if b2.Len() != 1024 {
		t.Errorf("reused Len = %d, want 1024", b2.Len())
	}
	b2.Release()
}

func TestArenaDoubleReleasePanics(t *testing.T) {
	a := pool.NewArena()
	b := a.Alloc(16)
	b.Release()
	defer func() {
		if recover() == nil {
			t.Fatal("second Release did not panic")
		}
	}()
	b.Release()
}

func TestArenaUseAfterReleasePanics(t *testing.T) {
	a := pool.NewArena()
	b := a.Alloc(16)
	b.Release()
	defer func() {
		if recover() == nil {
			t.Fatal("Bytes after Release did not panic")
		}
	}()
	_ = b.Bytes()
}

func TestArenaOversize(t *testing.T) {
	a := pool.NewArena()
	b := a.Alloc(1 << 20)
	if b.Len() != 1<<20 {
		t.Fatalf("Len = %d", b.Len())
	}
	b.Release()
	if st := a.Stats(); st.InUse != 0 {
		t.Errorf("InUse = %d after release", st.InUse)
	}
}
