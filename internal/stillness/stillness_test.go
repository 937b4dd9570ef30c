package stillness

import (
	"bytes"
	"testing"
)

func frame(size int, fill byte) []byte {
	return bytes.Repeat([]byte{fill}, size)
}

func TestSimilarity(t *testing.T) {
	noisy := frame(10_000, 1)
	for i := 0; i < len(noisy); i += 2000 {
		noisy[i] = 9
	}

	tests := []struct {
		name   string
		a, b   []byte
		stride int
		want   float64
	}{
		{name: "identical", a: frame(10_000, 7), b: frame(10_000, 7), stride: 1000, want: 1},
		{name: "different", a: frame(10_000, 7), b: frame(10_000, 8), stride: 1000, want: 0},
		{name: "mismatched lengths", a: frame(10_000, 7), b: frame(9_999, 7), stride: 1000, want: 0},
		{name: "empty", a: nil, b: nil, stride: 1000, want: 0},
		{name: "half sampled positions differ", a: frame(10_000, 1), b: noisy, stride: 1000, want: 0.5},
		{name: "buffer shorter than stride", a: []byte{1, 2}, b: []byte{1, 3}, stride: 1000, want: 1},
		{name: "zero stride compares every byte", a: []byte{1, 2}, b: []byte{1, 3}, stride: 0, want: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Similarity(tt.a, tt.b, tt.stride); got != tt.want {
				t.Errorf("Similarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestObserveEdgeTrigger(t *testing.T) {
	d := New(5, 0.95, 1000)
	still := frame(50_000, 3)

	if d.Observe(still) {
		t.Fatal("first frame fired")
	}

	for i := 1; i <= 4; i++ {
		if d.Observe(still) {
			t.Fatalf("static frame %d fired early", i)
		}
		if d.StaticCount() != i {
			t.Fatalf("count after %d static frames = %d", i, d.StaticCount())
		}
	}

	if !d.Observe(still) {
		t.Fatal("fifth static frame did not fire")
	}
	if d.StaticCount() != 0 {
		t.Fatalf("count after firing = %d, want 0", d.StaticCount())
	}

	if d.Observe(still) {
		t.Fatal("sixth static frame re-fired")
	}
	if d.StaticCount() != 1 {
		t.Fatalf("count after sixth frame = %d, want 1", d.StaticCount())
	}
}

func TestObserveResetsOnChange(t *testing.T) {
	d := New(3, 0.95, 1000)
	a := frame(10_000, 1)
	b := frame(10_000, 2)

	d.Observe(a)
	d.Observe(a)
	d.Observe(a)
	if d.StaticCount() != 2 {
		t.Fatalf("count = %d, want 2", d.StaticCount())
	}

	if d.Observe(b) {
		t.Fatal("changed frame fired")
	}
	if d.StaticCount() != 0 {
		t.Fatalf("count after change = %d, want 0", d.StaticCount())
	}

	// A resized stream never counts as static.
	if d.Observe(frame(20_000, 2)) || d.StaticCount() != 0 {
		t.Fatalf("resized frame counted as static")
	}
}

func TestObserveFiresAgainAfterFreshRun(t *testing.T) {
	d := New(2, 0.95, 1000)
	still := frame(5_000, 4)

	var fired []int
	d.Observe(still)
	for i := 1; i <= 6; i++ {
		if d.Observe(still) {
			fired = append(fired, i)
		}
	}

	want := []int{2, 4, 6}
	if len(fired) != len(want) {
		t.Fatalf("fired on %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Fatalf("fired on %v, want %v", fired, want)
		}
	}
}

func TestResetClearsPreviousFrame(t *testing.T) {
	d := New(1, 0.95, 1000)
	still := frame(5_000, 4)
	d.Observe(still)
	d.Reset()
	if d.Observe(still) {
		t.Fatal("frame after Reset fired")
	}
	if !d.Observe(still) {
		t.Fatal("second frame after Reset did not fire")
	}
}

func TestNewDefaults(t *testing.T) {
	d := New(0, 0, 0)
	if d.Threshold != DefaultThreshold || d.Similarity != DefaultSimilarity || d.Stride != DefaultStride {
		t.Errorf("New(0, 0, 0) = %+v", d)
	}
}
