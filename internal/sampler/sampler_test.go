package sampler

import (
	"testing"
	"time"
)

func TestPolicyFPS(t *testing.T) {
	p := Policy{BaseFPS: 2, BoostFPS: 4, BoostWindow: 3 * time.Second, WatchBudget: 10 * time.Second}

	tests := []struct {
		elapsed time.Duration
		want    float64
	}{
		{0, 2},
		{5 * time.Second, 2},
		{7 * time.Second, 2},
		{7*time.Second + time.Millisecond, 4},
		{10 * time.Second, 4},
		{30 * time.Second, 4},
	}
	for _, tt := range tests {
		if got := p.FPS(tt.elapsed); got != tt.want {
			t.Errorf("FPS(%v) = %v, want %v", tt.elapsed, got, tt.want)
		}
	}

	constant := Policy{BaseFPS: 1}
	if got := constant.FPS(time.Hour); got != 1 {
		t.Errorf("FPS without boost = %v, want 1", got)
	}
}

func TestSamplerFixedRateGap(t *testing.T) {
	for _, fps := range []float64{1, 2, 4} {
		s := New(Policy{BaseFPS: fps})
		start := time.Unix(1_700_000_000, 0)
		minGap := time.Duration(float64(time.Second) / fps)

		var emitted []time.Time
		for i := 0; i < 2000; i++ {
			now := start.Add(time.Duration(i) * 10 * time.Millisecond)
			if s.Admit(now, 0) {
				emitted = append(emitted, now)
			}
		}

		if len(emitted) == 0 {
			t.Fatalf("fps %v: nothing emitted", fps)
		}
		if !emitted[0].Equal(start) {
			t.Errorf("fps %v: first emission at %v, want first frame", fps, emitted[0])
		}
		for i := 1; i < len(emitted); i++ {
			if gap := emitted[i].Sub(emitted[i-1]); gap < minGap {
				t.Fatalf("fps %v: gap %v between emissions %d and %d, want >= %v", fps, gap, i-1, i, minGap)
			}
		}

		// 20s of input at fps should admit roughly 20*fps frames.
		want := int(20 * fps)
		if len(emitted) < want*9/10 || len(emitted) > want+1 {
			t.Errorf("fps %v: emitted %d frames, want about %d", fps, len(emitted), want)
		}

		admitted, dropped := s.Stats()
		if admitted != int64(len(emitted)) || admitted+dropped != 2000 {
			t.Errorf("fps %v: stats = %d/%d", fps, admitted, dropped)
		}
	}
}

func TestSamplerBoostsNearWatchBudget(t *testing.T) {
	s := New(Policy{BaseFPS: 2, BoostFPS: 4, BoostWindow: 3 * time.Second, WatchBudget: 10 * time.Second})
	start := time.Unix(1_700_000_000, 0)

	var early, late []time.Time
	for i := 0; i <= 1000; i++ {
		elapsed := time.Duration(i) * 10 * time.Millisecond
		now := start.Add(elapsed)
		if !s.Admit(now, elapsed) {
			continue
		}
		if elapsed <= 7*time.Second {
			early = append(early, now)
		} else {
			late = append(late, now)
		}
	}

	for i := 1; i < len(early); i++ {
		if gap := early[i].Sub(early[i-1]); gap < 500*time.Millisecond {
			t.Fatalf("base phase gap %v, want >= 500ms", gap)
		}
	}
	for i := 1; i < len(late); i++ {
		if gap := late[i].Sub(late[i-1]); gap < 250*time.Millisecond {
			t.Fatalf("boost phase gap %v, want >= 250ms", gap)
		}
	}
	if len(late) < 10 {
		t.Errorf("boost phase emitted %d frames in 3s, want at least 10", len(late))
	}
	if s.FPS() != 4 {
		t.Errorf("FPS() = %v after boost window, want 4", s.FPS())
	}
}

func TestSamplerDropsBurst(t *testing.T) {
	s := New(Policy{BaseFPS: 2})
	now := time.Unix(1_700_000_000, 0)

	if !s.Admit(now, 0) {
		t.Fatal("first frame rejected")
	}
	for i := 0; i < 50; i++ {
		if s.Admit(now.Add(time.Millisecond), 0) {
			t.Fatal("frame inside the interval admitted")
		}
	}
	if !s.Admit(now.Add(500*time.Millisecond), 0) {
		t.Error("frame after the interval rejected")
	}
}
