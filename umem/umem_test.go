package umem

import "testing"

func TestCreateRejectsUnsupportedFrameSize(t *testing.T) {
	if _, err := Create(1500, 64); err != ErrUnsupportedFrameSize {
		t.Fatalf("want ErrUnsupportedFrameSize, got %v", err)
	}
}

func TestCreateRejectsNonPowerOfTwoFrameCount(t *testing.T) {
	if _, err := Create(2048, 100); err != ErrUnsupportedFrameCount {
		t.Fatalf("want ErrUnsupportedFrameCount, got %v", err)
	}
	if _, err := Create(2048, 32); err != ErrUnsupportedFrameCount {
		t.Fatalf("want ErrUnsupportedFrameCount for count below minimum, got %v", err)
	}
}

func TestFrameBoundsAndIndependence(t *testing.T) {
	a, err := Create(2048, 64)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer a.Close()

	f0 := a.Frame(0)
	f1 := a.Frame(1)
	if len(f0) != 2048 || len(f1) != 2048 {
		t.Fatalf("unexpected frame length")
	}
	f0[0] = 0xAB
	if f1[0] == 0xAB {
		t.Fatalf("frames must not alias")
	}
}

func TestSliceMatchesFrameAtSameOffset(t *testing.T) {
	a, err := Create(2048, 64)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer a.Close()

	a.Frame(2)[5] = 0x42
	s := a.Slice(2*2048, 2048)
	if s[5] != 0x42 {
		t.Fatalf("Slice must alias the same bytes as Frame")
	}
}

func TestFrameAtResolvesOrdinalAndOffset(t *testing.T) {
	a, err := Create(2048, 64)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer a.Close()

	a.Frame(3)[10] = 0x7A
	frame, off := a.FrameAt(3*2048 + 10)
	if off != 10 {
		t.Fatalf("want offset 10, got %d", off)
	}
	if frame[off] != 0x7A {
		t.Fatalf("FrameAt did not resolve to the same frame as Frame(3)")
	}
}

func TestFrameOutOfRangePanics(t *testing.T) {
	a, err := Create(2048, 64)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer a.Close()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on out-of-range frame ordinal")
		}
	}()
	a.Frame(64)
}
