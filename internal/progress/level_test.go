package progress

import "testing"

func TestCalculateLevel(t *testing.T) {
	tests := []struct {
		xp   int
		want int
	}{
		{-50, 0},
		{0, 0},
		{99, 0},
		{100, 1},
		{399, 1},
		{400, 2},
		{900, 3},
		{10000, 10},
	}

	for _, tt := range tests {
		if got := CalculateLevel(tt.xp); got != tt.want {
			t.Errorf("CalculateLevel(%d) = %d; want %d", tt.xp, got, tt.want)
		}
	}
}

func TestXPForLevel(t *testing.T) {
	for level, want := range []int{0, 100, 400, 900, 1600} {
		if got := XPForLevel(level); got != want {
			t.Errorf("XPForLevel(%d) = %d; want %d", level, got, want)
		}
	}
}

func TestLevelProgressFor(t *testing.T) {
	tests := []struct {
		xp   int
		want LevelProgress
	}{
		{0, LevelProgress{CurrentLevel: 0, XPInCurrentLevel: 0, XPForNextLevel: 100, ProgressPercent: 0}},
		{50, LevelProgress{CurrentLevel: 0, XPInCurrentLevel: 50, XPForNextLevel: 100, ProgressPercent: 50}},
		{250, LevelProgress{CurrentLevel: 1, XPInCurrentLevel: 150, XPForNextLevel: 300, ProgressPercent: 50}},
		{400, LevelProgress{CurrentLevel: 2, XPInCurrentLevel: 0, XPForNextLevel: 500, ProgressPercent: 0}},
		{-10, LevelProgress{CurrentLevel: 0, XPInCurrentLevel: -10, XPForNextLevel: 100, ProgressPercent: 0}},
	}

	for _, tt := range tests {
		if got := LevelProgressFor(tt.xp); got != tt.want {
			t.Errorf("LevelProgressFor(%d) = %+v; want %+v", tt.xp, got, tt.want)
		}
	}
}
