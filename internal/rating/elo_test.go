package rating

import "testing"

func TestUpdateEqualTeams(t *testing.T) {
	dA, dB := Update([]int{1000}, []int{1000}, true)

	if dA[0] != 16 {
		t.Errorf("winner delta = %d, want 16", dA[0])
	}
	if dB[0] != -16 {
		t.Errorf("loser delta = %d, want -16", dB[0])
	}
}

func TestUpdateUnderdogWins(t *testing.T) {
	// Team A avg 1000, team B avg 1200, A wins: ~+24 / ~-24 per user.
	dA, dB := Update([]int{1000, 1000}, []int{1200, 1200}, true)

	for _, d := range dA {
		if d != 24 {
			t.Errorf("underdog delta = %d, want 24", d)
		}
	}
	for _, d := range dB {
		if d != -24 {
			t.Errorf("favorite delta = %d, want -24", d)
		}
	}
}

func TestUpdateZeroSum(t *testing.T) {
	// Homogeneous teams: each side's expected score is computed against the
	// other's mean, so totals cancel.
	dA, dB := Update([]int{1100, 1100, 1100}, []int{900, 900, 900}, false)

	sum := 0
	for _, d := range dA {
		sum += d
	}
	for _, d := range dB {
		sum += d
	}
	if sum != 0 {
		t.Errorf("delta sum = %d, want 0", sum)
	}
}

func TestUpdateDeterministic(t *testing.T) {
	a := []int{1012, 987, 1203, 844, 1000}
	b := []int{995, 1150, 902, 1076, 1030}

	d1a, d1b := Update(a, b, true)
	d2a, d2b := Update(a, b, true)

	for i := range d1a {
		if d1a[i] != d2a[i] {
			t.Fatalf("delta A[%d] differs across runs: %d vs %d", i, d1a[i], d2a[i])
		}
	}
	for i := range d1b {
		if d1b[i] != d2b[i] {
			t.Fatalf("delta B[%d] differs across runs: %d vs %d", i, d1b[i], d2b[i])
		}
	}
}

func TestUpdateClampAtZero(t *testing.T) {
	// A nearly-floored rating cannot go negative.
	_, dB := Update([]int{2000}, []int{10}, true)

	if 10+dB[0] < 0 {
		t.Errorf("rating would go negative: 10%+d", dB[0])
	}
}

func TestExpected(t *testing.T) {
	if e := Expected(1000, 1000); e != 0.5 {
		t.Errorf("Expected(1000,1000) = %v, want 0.5", e)
	}
	e := Expected(1000, 1200)
	if e < 0.23 || e > 0.25 {
		t.Errorf("Expected(1000,1200) = %v, want ~0.24", e)
	}
}
