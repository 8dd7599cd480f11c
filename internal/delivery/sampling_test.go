package delivery

import "testing"

func TestGateAlwaysAndNever(t *testing.T) {
	draws := []float64{0, 0.42, 0.99}
	for _, d := range draws {
		d := d
		if g := NewGate(100, func() float64 { return d }); !g.Sampled() {
			t.Errorf("expected 100%% gate sampled for draw %v", d)
		}
		if g := NewGate(0, func() float64 { return d }); g.Sampled() {
			t.Errorf("expected 0%% gate unsampled for draw %v", d)
		}
	}
}

func TestGateThreshold(t *testing.T) {
	tests := []struct {
		pct     int
		draw    float64
		sampled bool
	}{
		{50, 0.49, true},
		{50, 0.50, false},
		{50, 0.51, false},
		{1, 0.009, true},
		{1, 0.01, false},
	}

	for _, tt := range tests {
		g := NewGate(tt.pct, func() float64 { return tt.draw })
		if g.Sampled() != tt.sampled {
			t.Errorf("pct=%d draw=%v: expected sampled=%v", tt.pct, tt.draw, tt.sampled)
		}
	}
}

func TestGateInvalidPercentageFallsBackTo100(t *testing.T) {
	for _, pct := range []int{-1, 101, 1000} {
		g := NewGate(pct, func() float64 { return 0.99 })
		if g.Percentage() != 100 {
			t.Errorf("pct=%d: expected fallback to 100, got %d", pct, g.Percentage())
		}
		if !g.Sampled() {
			t.Errorf("pct=%d: expected sampled after fallback", pct)
		}
	}
}

func TestGateDecidedOnce(t *testing.T) {
	calls := 0
	g := NewGate(50, func() float64 { calls++; return 0.1 })

	for i := 0; i < 10; i++ {
		g.Sampled()
	}
	if calls != 1 {
		t.Errorf("expected a single draw, got %d", calls)
	}
}
