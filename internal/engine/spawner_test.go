package engine

import "testing"

func TestSpawnerDue(t *testing.T) {
	if _, err := NewSpawner(0); err == nil {
		t.Fatal("Expected error for cadence 0")
	}

	sp, err := NewSpawner(4)
	if err != nil {
		t.Fatal(err)
	}
	for tick, want := range map[int64]bool{0: true, 1: false, 3: false, 4: true, 8: true, 9: false} {
		if got := sp.Due(tick); got != want {
			t.Errorf("Due(%d) = %v, want %v", tick, got, want)
		}
	}
	if sp.Cadence() != 4 {
		t.Errorf("Expected cadence 4, got %d", sp.Cadence())
	}
}
